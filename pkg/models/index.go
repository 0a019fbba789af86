package models

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownIndexCode = errors.New("unknown index code")

// IndexFamily groups MIBGAS PVB forward products by delivery period.
type IndexFamily string

const (
	FamilyMonthAhead IndexFamily = "GMAES"
	FamilyMonth      IndexFamily = "GMES"
	FamilyQuarter    IndexFamily = "GQES"
	FamilyYear       IndexFamily = "GYES"
)

// IndexCode identifies a forward product relative to the trading day, e.g.
// GMES_M+3 is the third month after the trading day's month.
type IndexCode struct {
	Family IndexFamily
	Ahead  int
}

var indexCodeRe = regexp.MustCompile(`^(GMES_M|GQES_Q|GYES_Y)\s*\+\s*(\d+)$`)

func MonthAhead() IndexCode       { return IndexCode{Family: FamilyMonthAhead, Ahead: 1} }
func MonthCode(k int) IndexCode   { return IndexCode{Family: FamilyMonth, Ahead: k} }
func QuarterCode(k int) IndexCode { return IndexCode{Family: FamilyQuarter, Ahead: k} }
func YearCode(k int) IndexCode    { return IndexCode{Family: FamilyYear, Ahead: k} }

func (c IndexCode) IsZero() bool    { return c.Family == "" }
func (c IndexCode) IsQuarter() bool { return c.Family == FamilyQuarter }
func (c IndexCode) IsAnnual() bool  { return c.Family == FamilyYear }
func (c IndexCode) IsMonthly() bool { return c.Family == FamilyMonth || c.Family == FamilyMonthAhead }

// ParseIndexCode accepts the product codes as they appear in the trading data
// sheet. Matching ignores case and surrounding whitespace.
func ParseIndexCode(s string) (IndexCode, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if code == string(FamilyMonthAhead) {
		return MonthAhead(), nil
	}

	m := indexCodeRe.FindStringSubmatch(code)
	if m == nil {
		return IndexCode{}, fmt.Errorf("%w: %q", ErrUnknownIndexCode, s)
	}
	k, err := strconv.Atoi(m[2])
	if err != nil {
		return IndexCode{}, fmt.Errorf("%w: %q", ErrUnknownIndexCode, s)
	}

	switch m[1] {
	case "GMES_M":
		if k < 2 {
			return IndexCode{}, fmt.Errorf("%w: %q (month-ahead is GMAES)", ErrUnknownIndexCode, s)
		}
		return MonthCode(k), nil
	case "GQES_Q":
		if k < 1 {
			return IndexCode{}, fmt.Errorf("%w: %q", ErrUnknownIndexCode, s)
		}
		return QuarterCode(k), nil
	default:
		if k < 1 {
			return IndexCode{}, fmt.Errorf("%w: %q", ErrUnknownIndexCode, s)
		}
		return YearCode(k), nil
	}
}

func (c IndexCode) String() string {
	switch c.Family {
	case FamilyMonthAhead:
		return string(FamilyMonthAhead)
	case FamilyMonth:
		return fmt.Sprintf("GMES_M+%d", c.Ahead)
	case FamilyQuarter:
		return fmt.Sprintf("GQES_Q+%d", c.Ahead)
	case FamilyYear:
		return fmt.Sprintf("GYES_Y+%d", c.Ahead)
	default:
		return ""
	}
}

func (c IndexCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *IndexCode) UnmarshalText(text []byte) error {
	parsed, err := ParseIndexCode(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// IsForwardProduct reports whether a raw product code belongs to one of the
// monthly, quarterly or yearly families. Daily and weekend products are not.
func IsForwardProduct(s string) bool {
	_, err := ParseIndexCode(s)
	return err == nil
}

// IndexQuote is one priced index on the reference trading day, in EUR/MWh.
type IndexQuote struct {
	Code  IndexCode       `json:"code"`
	Value decimal.Decimal `json:"value"`
}

// QuoteSet holds at most one quote per index code.
type QuoteSet map[IndexCode]decimal.Decimal

// NewQuoteSet indexes quotes by code. When a code repeats the first
// occurrence is kept.
func NewQuoteSet(quotes []IndexQuote) QuoteSet {
	set := make(QuoteSet, len(quotes))
	for _, q := range quotes {
		if q.Code.IsZero() {
			continue
		}
		if _, exists := set[q.Code]; exists {
			continue
		}
		set[q.Code] = q.Value
	}
	return set
}

func (s QuoteSet) Lookup(code IndexCode) (decimal.Decimal, bool) {
	v, ok := s[code]
	return v, ok
}

// ParseQuotes converts raw product/value pairs into quotes, dropping products
// outside the forward families. Values may use a comma decimal separator.
func ParseQuotes(raw map[string]string) ([]IndexQuote, error) {
	products := make([]string, 0, len(raw))
	for product := range raw {
		products = append(products, product)
	}
	sort.Strings(products)

	quotes := make([]IndexQuote, 0, len(raw))
	for _, product := range products {
		value := raw[product]
		code, err := ParseIndexCode(product)
		if err != nil {
			continue
		}
		v, err := ParseDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("quote %s: %w", code, err)
		}
		quotes = append(quotes, IndexQuote{Code: code, Value: v})
	}
	return quotes, nil
}

// ParseDecimal reads prices written either as 26.50 or 26,50.
func ParseDecimal(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	clean = strings.ReplaceAll(clean, " ", "")
	if strings.Contains(clean, ",") && strings.Contains(clean, ".") {
		// 1.234,56
		clean = strings.ReplaceAll(clean, ".", "")
	}
	clean = strings.ReplaceAll(clean, ",", ".")
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}
