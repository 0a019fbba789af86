package contracts

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/gasprice/pkg/models"
)

var (
	ErrMissingValue = errors.New("missing value")

	leadingIntRe   = regexp.MustCompile(`^\s*(\d+)`)
	coefficientRe  = regexp.MustCompile(`(?i)k\s*=\s*([-+]?\d*[.,]?\d+)`)
	quarterTagRe   = regexp.MustCompile(`1\.?º\s*Trim`)
	numberRe       = regexp.MustCompile(`[-+]?\d*\.\d+|\d+`)
	monthNumberRe  = regexp.MustCompile(`^(\d{1,2})(?:\s*[-/ ]\s*[\p{L}]+)?$`)
	yearMonthRe    = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
	priceDateForms = []string{"02/01/2006", "02-01-2006", "2006-01-02", "2/1/2006"}
)

var monthNames = map[string]time.Month{
	"january": time.January, "janeiro": time.January, "enero": time.January,
	"february": time.February, "fevereiro": time.February, "febrero": time.February,
	"march": time.March, "março": time.March, "marco": time.March, "marzo": time.March,
	"april": time.April, "abril": time.April,
	"may": time.May, "maio": time.May, "mayo": time.May,
	"june": time.June, "junho": time.June, "junio": time.June,
	"july": time.July, "julho": time.July, "julio": time.July,
	"august": time.August, "agosto": time.August,
	"september": time.September, "setembro": time.September, "septiembre": time.September,
	"october": time.October, "outubro": time.October, "octubre": time.October,
	"november": time.November, "novembro": time.November, "noviembre": time.November,
	"december": time.December, "dezembro": time.December, "diciembre": time.December,
}

// IsMissing reports the placeholders the extraction scripts write for empty
// cells.
func IsMissing(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "-", "nap", "none", "nan", "null", "ass.":
		return true
	}
	return false
}

func ParsePriceDate(value string) (time.Time, error) {
	if IsMissing(value) {
		return time.Time{}, ErrMissingValue
	}
	value = strings.TrimSpace(value)
	for _, layout := range priceDateForms {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid price date %q", value)
}

// ParseDuration reads the supply duration in months; trailing words such as
// "meses" are ignored.
func ParseDuration(value string) (int, error) {
	if IsMissing(value) {
		return 0, ErrMissingValue
	}
	m := leadingIntRe.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid contract duration %q", value)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid contract duration %q", value)
	}
	return n, nil
}

// ParseStartMonth reads the start supply month. Values without a year
// ("06-June", "Junho", "6") resolve to the first such month at or after the
// reference month.
func ParseStartMonth(value string, reference time.Time) (models.Month, error) {
	if IsMissing(value) {
		return models.Month{}, ErrMissingValue
	}
	v := strings.TrimSpace(value)
	if m := yearMonthRe.FindStringSubmatch(v); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			return models.NewMonth(year, time.Month(month)), nil
		}
	}

	var month time.Month
	if m := monthNumberRe.FindStringSubmatch(v); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= 12 {
			month = time.Month(n)
		}
	} else {
		month = monthNames[strings.ToLower(strings.Fields(v)[0])]
	}
	if month == 0 {
		return models.Month{}, fmt.Errorf("invalid start supply month %q", value)
	}

	ref := models.MonthOf(reference)
	start := models.NewMonth(ref.Year, month)
	if start.Before(ref) {
		start = models.NewMonth(ref.Year+1, month)
	}
	return start, nil
}

// ParseAmount extracts a number from a cell as the tender sheets write them:
// comma decimals, "k=" coefficient notation, or with unit suffixes. Values
// tagged as first-quarter prices are not comparable and yield ok=false.
func ParseAmount(value string) (decimal.Decimal, bool) {
	if IsMissing(value) || quarterTagRe.MatchString(value) {
		return decimal.Zero, false
	}
	if k, ok := ParseCoefficient(value); ok {
		return k, true
	}
	if d, err := models.ParseDecimal(value); err == nil {
		return d, true
	}
	m := numberRe.FindString(strings.ReplaceAll(value, ",", "."))
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseCoefficient reads an indexed proposal written as "k=0,045".
func ParseCoefficient(value string) (decimal.Decimal, bool) {
	if quarterTagRe.MatchString(value) {
		return decimal.Zero, false
	}
	m := coefficientRe.FindStringSubmatch(value)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// FormatDecimal renders a value with a comma decimal separator, as the
// spreadsheets are read in a Portuguese locale.
func FormatDecimal(d decimal.Decimal, places int32) string {
	return strings.Replace(d.StringFixed(places), ".", ",", 1)
}
