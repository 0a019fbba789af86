package models

import (
	"time"
)

// Contract is one tender row reduced to the fields needed for pricing.
// Zero values mean the spreadsheet had no usable entry.
type Contract struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Row            int       `json:"row"`
	PriceDate      time.Time `json:"price_date"`
	DurationMonths int       `json:"duration_months"`
	StartMonth     Month     `json:"start_month"`
}

func (c Contract) Schedule() ContractSchedule {
	return ContractSchedule{
		ReferenceDate:  c.PriceDate,
		DurationMonths: c.DurationMonths,
		StartMonth:     c.StartMonth,
	}
}

// MissingFields names the pricing inputs the row lacks.
func (c Contract) MissingFields() []string {
	var missing []string
	if c.PriceDate.IsZero() {
		missing = append(missing, "price date")
	}
	if c.DurationMonths < 1 {
		missing = append(missing, "contract duration")
	}
	if c.StartMonth == (Month{}) {
		missing = append(missing, "start supply month")
	}
	return missing
}
