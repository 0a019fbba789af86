package contracts

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gregtusar/gasprice/pkg/models"
)

// RowError explains why a row could not be turned into a priceable contract.
type RowError struct {
	Row        int
	ContractID string
	Err        error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %v", e.Row, e.ContractID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Contract parses row i. A missing start supply month is taken from the
// contract start date, or estimated from the price date.
func (s *Sheet) Contract(i int) (models.Contract, error) {
	c := models.Contract{
		ID:   s.Get(i, ColumnID),
		Name: s.Get(i, ColumnName),
		Row:  i + 1,
	}
	if c.ID == "" {
		c.ID = strconv.Itoa(i + 1)
	}

	var errs []error
	priceDate, err := ParsePriceDate(s.Get(i, ColumnPriceDate))
	if err != nil {
		errs = append(errs, fmt.Errorf("price date: %w", err))
	} else {
		c.PriceDate = priceDate
	}

	duration, err := ParseDuration(s.Get(i, ColumnDuration))
	if err != nil {
		errs = append(errs, fmt.Errorf("contract duration: %w", err))
	} else {
		c.DurationMonths = duration
	}

	if !c.PriceDate.IsZero() {
		start, err := s.startMonth(i, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("start supply month: %w", err))
		} else {
			c.StartMonth = start
		}
	}

	if len(errs) > 0 {
		return c, &RowError{Row: c.Row, ContractID: c.ID, Err: errors.Join(errs...)}
	}
	return c, nil
}

func (s *Sheet) startMonth(i int, c models.Contract) (models.Month, error) {
	start, err := ParseStartMonth(s.Get(i, ColumnStartMonth), c.PriceDate)
	if !errors.Is(err, ErrMissingValue) {
		return start, err
	}
	if d, err := ParsePriceDate(s.Get(i, ColumnStartDate)); err == nil {
		return models.MonthOf(d), nil
	}
	return models.DefaultStartMonth(c.PriceDate), nil
}

// Contracts parses every row. Rows that fail are returned as RowErrors
// alongside the contracts that parsed.
func (s *Sheet) Contracts() ([]models.Contract, []*RowError) {
	var (
		out  []models.Contract
		errs []*RowError
	)
	for i := range s.Rows {
		c, err := s.Contract(i)
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				errs = append(errs, rowErr)
			}
			continue
		}
		out = append(out, c)
	}
	return out, errs
}
