package allocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gregtusar/gasprice/pkg/models"
)

var (
	ErrInvalidSchedule  = errors.New("invalid contract schedule")
	ErrNoQuote          = errors.New("no index quote available")
	ErrCoverageMismatch = errors.New("allocation coverage mismatch")
)

// InvalidScheduleError rejects a schedule before any month is priced.
type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidSchedule, e.Reason)
}

func (e *InvalidScheduleError) Is(target error) bool {
	return target == ErrInvalidSchedule
}

// NoQuoteAvailableError lists the delivery months no rule could price.
type NoQuoteAvailableError struct {
	Months []models.Month
}

func (e *NoQuoteAvailableError) Error() string {
	months := make([]string, len(e.Months))
	for i, m := range e.Months {
		months[i] = m.String()
	}
	return fmt.Sprintf("%s for %d month(s): %s", ErrNoQuote, len(e.Months), strings.Join(months, ", "))
}

func (e *NoQuoteAvailableError) Is(target error) bool {
	return target == ErrNoQuote
}

// CoverageMismatchError means the assigned months do not add up to the
// contract duration.
type CoverageMismatchError struct {
	Assigned int
	Duration int
}

func (e *CoverageMismatchError) Error() string {
	return fmt.Sprintf("%s: %d months assigned, contract has %d", ErrCoverageMismatch, e.Assigned, e.Duration)
}

func (e *CoverageMismatchError) Is(target error) bool {
	return target == ErrCoverageMismatch
}
