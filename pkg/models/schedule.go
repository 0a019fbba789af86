package models

import (
	"time"
)

// ContractSchedule is the delivery window to be priced: DurationMonths
// contiguous months starting at StartMonth, priced with the quotes observed
// on ReferenceDate.
type ContractSchedule struct {
	ReferenceDate  time.Time `json:"reference_date"`
	DurationMonths int       `json:"duration_months"`
	StartMonth     Month     `json:"start_month"`
}

func (s ContractSchedule) ReferenceMonth() Month {
	return MonthOf(s.ReferenceDate)
}

func (s ContractSchedule) EndMonth() Month {
	return s.StartMonth.AddMonths(s.DurationMonths - 1)
}

// Months lists every delivery month in order.
func (s ContractSchedule) Months() []Month {
	if s.DurationMonths < 1 {
		return nil
	}
	months := make([]Month, s.DurationMonths)
	for i := range months {
		months[i] = s.StartMonth.AddMonths(i)
	}
	return months
}

// DefaultStartMonth estimates the first supply month when a tender does not
// state one: two months after the price date, or three from the 21st on.
func DefaultStartMonth(priceDate time.Time) Month {
	ahead := 2
	if priceDate.Day() >= 21 {
		ahead = 3
	}
	return MonthOf(priceDate).AddMonths(ahead)
}
