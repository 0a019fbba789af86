// Package allocation prices a gas supply contract from the forward index
// quotes observed on its price date.
//
// Every delivery month is assigned exactly one index. Full calendar quarters
// take the matching GQES_Q+k product; other months take GMAES / GMES_M+k;
// quarters only partly inside the contract fall back to the quarter product
// for the months no monthly product reaches; anything left is priced with
// the annual GYES_Y+k product through the end of its calendar year. The
// contract price is the month-weighted average of the assigned quotes,
// rounded to cents once at the end.
package allocation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/gasprice/pkg/models"
)

// Rule records which branch priced a month.
type Rule string

const (
	RuleQuarter        Rule = "quarter"
	RuleMonthly        Rule = "monthly"
	RulePartialQuarter Rule = "partial_quarter"
	RuleAnnual         Rule = "annual"
)

// annualHorizon is the furthest GYES product the market publishes; later
// years reuse it.
const annualHorizon = 2

// Entry is one index with the number of contract months it prices.
type Entry struct {
	Code   models.IndexCode `json:"code"`
	Value  decimal.Decimal  `json:"value"`
	Months int              `json:"months"`
}

// Slot is one delivery month with the index that prices it.
type Slot struct {
	Month models.Month     `json:"month"`
	Code  models.IndexCode `json:"code"`
	Rule  Rule             `json:"rule"`
}

// Result is a complete allocation of a contract.
type Result struct {
	// Entries are in order of first use along the contract.
	Entries         []Entry         `json:"entries"`
	Slots           []Slot          `json:"slots"`
	WeightedAverage decimal.Decimal `json:"weighted_average"`
}

// Weight returns the entry of code, if the allocation used it.
func (r *Result) Weight(code models.IndexCode) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Code == code {
			return e, true
		}
	}
	return Entry{}, false
}

// MonthsCovered sums the months of every entry.
func (r *Result) MonthsCovered() int {
	total := 0
	for _, e := range r.Entries {
		total += e.Months
	}
	return total
}

// Allocate assigns every month of the schedule to one of the quotes and
// returns the weighted average price. It has no side effects and is safe to
// call concurrently.
func Allocate(schedule models.ContractSchedule, quotes []models.IndexQuote) (*Result, error) {
	if err := Validate(schedule); err != nil {
		return nil, err
	}

	a := &allocator{
		ref:    schedule.ReferenceMonth(),
		start:  schedule.StartMonth,
		months: schedule.Months(),
		quotes: models.NewQuoteSet(quotes),
	}
	a.slots = make([]Slot, len(a.months))
	for i, m := range a.months {
		a.slots[i].Month = m
	}
	a.run()

	var missing []models.Month
	for _, s := range a.slots {
		if s.Code.IsZero() {
			missing = append(missing, s.Month)
		}
	}
	if len(missing) > 0 {
		return nil, &NoQuoteAvailableError{Months: missing}
	}

	return a.result(schedule.DurationMonths)
}

// Validate checks the schedule preconditions of Allocate.
func Validate(schedule models.ContractSchedule) error {
	if schedule.DurationMonths < 1 {
		return &InvalidScheduleError{Reason: "duration must be at least one month"}
	}
	if schedule.ReferenceDate.IsZero() {
		return &InvalidScheduleError{Reason: "missing reference date"}
	}
	if schedule.StartMonth.Month < time.January || schedule.StartMonth.Month > time.December {
		return &InvalidScheduleError{Reason: "missing start month"}
	}
	if schedule.StartMonth.Before(schedule.ReferenceMonth()) {
		return &InvalidScheduleError{Reason: "start month " + schedule.StartMonth.String() +
			" precedes reference month " + schedule.ReferenceMonth().String()}
	}
	return nil
}

type allocator struct {
	ref    models.Month
	start  models.Month
	months []models.Month
	quotes models.QuoteSet
	slots  []Slot
}

func (a *allocator) run() {
	for i := 0; i < len(a.months); {
		if n := a.assign(i); n > 0 {
			i += n
			continue
		}
		// left unassigned; reported by the caller
		i++
	}
}

// assign prices the month at i and possibly the ones after it, returning how
// many months were assigned.
func (a *allocator) assign(i int) int {
	m := a.months[i]
	quarter, _, hasQuarter := a.quarterQuote(m)

	if hasQuarter && a.quarterRemainder(i) == 3 {
		return a.fill(i, 3, quarter, RuleQuarter)
	}
	if n := a.fillMonthly(i); n > 0 {
		return n
	}
	// Months of an incomplete quarter that no monthly product reaches.
	if hasQuarter && a.partialQuarterAllowed(m) {
		return a.fill(i, 1, quarter, RulePartialQuarter)
	}
	return a.fillAnnual(i)
}

// quarterRemainder counts the months from i to the end of its calendar
// quarter that are still inside the contract.
func (a *allocator) quarterRemainder(i int) int {
	end := a.months[i].QuarterEnd()
	n := 0
	for j := i; j < len(a.months) && !end.Before(a.months[j]); j++ {
		n++
	}
	return n
}

// partialQuarterAllowed decides whether an incomplete quarter may still use
// its quarter product. The opening quarter of a contract always may; a
// closing quarter only when supply starts in the first half of a year.
func (a *allocator) partialQuarterAllowed(m models.Month) bool {
	if m.QuarterStart().Before(a.start) {
		return true
	}
	return a.start.FirstHalf()
}

func (a *allocator) quarterQuote(m models.Month) (models.IndexCode, decimal.Decimal, bool) {
	k := a.ref.QuartersUntil(m)
	if k < 1 {
		return models.IndexCode{}, decimal.Zero, false
	}
	code := models.QuarterCode(k)
	v, ok := a.quotes.Lookup(code)
	return code, v, ok
}

func (a *allocator) monthlyQuote(m models.Month) (models.IndexCode, decimal.Decimal, bool) {
	var code models.IndexCode
	switch k := a.ref.MonthsUntil(m); {
	case k == 1:
		code = models.MonthAhead()
	case k >= 2:
		code = models.MonthCode(k)
	default:
		return models.IndexCode{}, decimal.Zero, false
	}
	v, ok := a.quotes.Lookup(code)
	return code, v, ok
}

func (a *allocator) annualQuote(m models.Month) (models.IndexCode, decimal.Decimal, bool) {
	k := m.Year - a.ref.Year
	if k < 1 {
		return models.IndexCode{}, decimal.Zero, false
	}
	code := models.YearCode(k)
	if v, ok := a.quotes.Lookup(code); ok {
		return code, v, true
	}
	if k > annualHorizon {
		code = models.YearCode(annualHorizon)
		v, ok := a.quotes.Lookup(code)
		return code, v, ok
	}
	return models.IndexCode{}, decimal.Zero, false
}

// fullQuarterAt reports whether month i opens a quarter that lies entirely in
// the contract and has a quote.
func (a *allocator) fullQuarterAt(i int) bool {
	if !a.months[i].IsQuarterStart() || a.quarterRemainder(i) < 3 {
		return false
	}
	_, _, ok := a.quarterQuote(a.months[i])
	return ok
}

func (a *allocator) fillMonthly(i int) int {
	code, _, ok := a.monthlyQuote(a.months[i])
	if !ok {
		return 0
	}
	return a.fill(i, 1, code, RuleMonthly)
}

// fillAnnual prices month i and the rest of its calendar year with the
// annual product, stopping before any quoted full quarter.
func (a *allocator) fillAnnual(i int) int {
	code, _, ok := a.annualQuote(a.months[i])
	if !ok {
		return 0
	}
	n := 1
	for j := i + 1; j < len(a.months) && a.months[j].Year == a.months[i].Year; j++ {
		if a.fullQuarterAt(j) {
			break
		}
		n++
	}
	return a.fill(i, n, code, RuleAnnual)
}

func (a *allocator) fill(i, n int, code models.IndexCode, rule Rule) int {
	for j := i; j < i+n && j < len(a.slots); j++ {
		a.slots[j].Code = code
		a.slots[j].Rule = rule
	}
	return n
}

func (a *allocator) result(duration int) (*Result, error) {
	res := &Result{Slots: a.slots}
	pos := make(map[models.IndexCode]int)
	for _, s := range a.slots {
		idx, seen := pos[s.Code]
		if !seen {
			v, _ := a.quotes.Lookup(s.Code)
			pos[s.Code] = len(res.Entries)
			res.Entries = append(res.Entries, Entry{Code: s.Code, Value: v})
			idx = pos[s.Code]
		}
		res.Entries[idx].Months++
	}

	if covered := res.MonthsCovered(); covered != duration {
		return nil, &CoverageMismatchError{Assigned: covered, Duration: duration}
	}

	sum := decimal.Zero
	for _, e := range res.Entries {
		sum = sum.Add(e.Value.Mul(decimal.NewFromInt(int64(e.Months))))
	}
	res.WeightedAverage = sum.Div(decimal.NewFromInt(int64(duration))).Round(2)
	return res, nil
}
