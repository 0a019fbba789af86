package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonth_Arithmetic(t *testing.T) {
	nov := NewMonth(2024, time.November)

	assert.Equal(t, NewMonth(2025, time.February), nov.AddMonths(3))
	assert.Equal(t, NewMonth(2024, time.October), nov.AddMonths(-1))
	assert.Equal(t, 3, nov.MonthsUntil(NewMonth(2025, time.February)))
	assert.Equal(t, -10, nov.MonthsUntil(NewMonth(2024, time.January)))
	assert.True(t, nov.Before(NewMonth(2024, time.December)))
	assert.False(t, nov.Before(nov))
}

func TestMonth_Quarters(t *testing.T) {
	aug := NewMonth(2024, time.August)

	assert.Equal(t, 3, aug.Quarter())
	assert.Equal(t, NewMonth(2024, time.July), aug.QuarterStart())
	assert.Equal(t, NewMonth(2024, time.September), aug.QuarterEnd())
	assert.False(t, aug.IsQuarterStart())
	assert.True(t, NewMonth(2024, time.October).IsQuarterStart())

	apr := NewMonth(2024, time.April)
	assert.Equal(t, 1, apr.QuartersUntil(aug))
	assert.Equal(t, 4, apr.QuartersUntil(NewMonth(2025, time.May)))
	assert.Equal(t, 0, apr.QuartersUntil(NewMonth(2024, time.June)))
}

func TestMonth_Text(t *testing.T) {
	m, err := ParseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, NewMonth(2025, time.March), m)
	assert.Equal(t, "2025-03", m.String())

	_, err = ParseMonth("March 2025")
	assert.Error(t, err)
}

func TestContractSchedule_Months(t *testing.T) {
	s := ContractSchedule{
		ReferenceDate:  time.Date(2024, time.April, 18, 0, 0, 0, 0, time.UTC),
		DurationMonths: 12,
		StartMonth:     NewMonth(2024, time.June),
	}

	months := s.Months()
	require.Len(t, months, 12)
	assert.Equal(t, NewMonth(2024, time.June), months[0])
	assert.Equal(t, NewMonth(2025, time.May), months[11])
	assert.Equal(t, NewMonth(2025, time.May), s.EndMonth())
	assert.Equal(t, NewMonth(2024, time.April), s.ReferenceMonth())
}

func TestDefaultStartMonth(t *testing.T) {
	assert.Equal(t, NewMonth(2024, time.June),
		DefaultStartMonth(time.Date(2024, time.April, 18, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, NewMonth(2025, time.February),
		DefaultStartMonth(time.Date(2024, time.November, 21, 0, 0, 0, 0, time.UTC)))
}

func TestContract_MissingFields(t *testing.T) {
	c := Contract{ID: "42", DurationMonths: 12}
	assert.Equal(t, []string{"price date", "start supply month"}, c.MissingFields())
}
