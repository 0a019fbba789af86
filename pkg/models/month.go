package models

import (
	"fmt"
	"time"
)

// Month is a calendar month without a day component.
type Month struct {
	Year  int
	Month time.Month
}

func NewMonth(year int, month time.Month) Month {
	return Month{Year: year, Month: month}
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth reads the 2006-01 form produced by String.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

func (m Month) index() int {
	return m.Year*12 + int(m.Month) - 1
}

func monthFromIndex(i int) Month {
	return Month{Year: i / 12, Month: time.Month(i%12 + 1)}
}

func (m Month) AddMonths(n int) Month {
	return monthFromIndex(m.index() + n)
}

// MonthsUntil returns the signed number of months from m to other.
func (m Month) MonthsUntil(other Month) int {
	return other.index() - m.index()
}

func (m Month) Before(other Month) bool {
	return m.index() < other.index()
}

// Quarter returns the calendar quarter number, 1 to 4.
func (m Month) Quarter() int {
	return (int(m.Month)-1)/3 + 1
}

func (m Month) QuarterStart() Month {
	return Month{Year: m.Year, Month: time.Month((m.Quarter()-1)*3 + 1)}
}

func (m Month) QuarterEnd() Month {
	return m.QuarterStart().AddMonths(2)
}

func (m Month) IsQuarterStart() bool {
	return m == m.QuarterStart()
}

// QuartersUntil counts whole calendar quarters from m's quarter to other's.
func (m Month) QuartersUntil(other Month) int {
	return (other.Year*4 + other.Quarter() - 1) - (m.Year*4 + m.Quarter() - 1)
}

func (m Month) FirstHalf() bool {
	return m.Month <= time.June
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(text []byte) error {
	parsed, err := ParseMonth(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
