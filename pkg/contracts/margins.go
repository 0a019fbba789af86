package contracts

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	kwhPerMWh    = decimal.NewFromInt(1000)
	eurPerKWhMax = decimal.NewFromInt(1)
)

// MarginUpdates counts changed cells per column.
type MarginUpdates map[string]int

func (u MarginUpdates) add(column string, changed bool) {
	if changed {
		u[column]++
	}
}

// ApplyProfitMargins fills Profit_Margin (€/MWh) as winning proposal minus
// the computed fixed price, and Real profit as that margin over the total
// consumption.
func ApplyProfitMargins(s *Sheet) MarginUpdates {
	updates := make(MarginUpdates)
	s.EnsureColumn(ColumnProfitMargin, "-")
	s.EnsureColumn(ColumnRealProfit, "-")

	for i := range s.Rows {
		fixed, okFixed := ParseAmount(s.Get(i, ColumnFixedPrice))
		winning, okWinning := ParseAmount(s.Get(i, ColumnWinningProposal))
		if okFixed && okWinning {
			margin := winning.Sub(fixed)
			current, ok := ParseAmount(s.Get(i, ColumnProfitMargin))
			if !ok || current.Sub(margin).Abs().GreaterThan(decimal.New(1, -3)) {
				updates.add(ColumnProfitMargin, s.Set(i, ColumnProfitMargin, FormatDecimal(margin, 3)))
			}
		}

		consumption, okConsumption := ParseAmount(s.Get(i, ColumnConsumption))
		margin, okMargin := ParseAmount(s.Get(i, ColumnProfitMargin))
		if okConsumption && okMargin {
			profit := consumption.Div(kwhPerMWh).Mul(margin)
			updates.add(ColumnRealProfit, s.Set(i, ColumnRealProfit, FormatDecimal(profit, 2)))
		} else {
			updates.add(ColumnRealProfit, s.Set(i, ColumnRealProfit, "-"))
		}
	}
	return updates
}

// ApplyCompetitorMargins compares every competitor proposal (€/kWh) and the
// reference entity proposal with the fixed price (€/MWh).
func ApplyCompetitorMargins(s *Sheet) MarginUpdates {
	updates := make(MarginUpdates)
	competitors := s.Columns(CompetitorPrefix)
	marginColumns := make([]string, len(competitors))
	for j, col := range competitors {
		company := strings.Fields(strings.TrimPrefix(col, CompetitorPrefix))
		name := strings.TrimPrefix(col, CompetitorPrefix)
		if len(company) > 0 {
			name = company[0]
		}
		marginColumns[j] = CompetitorMarginPrefix + name
		s.EnsureColumn(marginColumns[j], "-")
	}
	s.EnsureColumn(ColumnReferenceMargin, "-")

	for i := range s.Rows {
		fixed, okFixed := ParseAmount(s.Get(i, ColumnFixedPrice))

		if ref := s.Get(i, ColumnReferenceProposal); !IsMissing(ref) {
			if k, ok := ParseCoefficient(ref); ok {
				updates.add(ColumnReferenceMargin, s.Set(i, ColumnReferenceMargin, FormatDecimal(k, 3)))
			} else if price, ok := ParseAmount(ref); ok && okFixed {
				if price.LessThan(eurPerKWhMax) {
					price = price.Mul(kwhPerMWh)
				}
				updates.add(ColumnReferenceMargin, s.Set(i, ColumnReferenceMargin, FormatDecimal(price.Sub(fixed), 2)))
			}
		}

		for j, col := range competitors {
			value := s.Get(i, col)
			if IsMissing(value) {
				continue
			}
			if quarterTagRe.MatchString(value) {
				updates.add(marginColumns[j], s.Set(i, marginColumns[j], "-"))
				continue
			}
			if k, ok := ParseCoefficient(value); ok {
				updates.add(marginColumns[j], s.Set(i, marginColumns[j], FormatDecimal(k.Mul(kwhPerMWh), 3)))
				continue
			}
			price, ok := ParseAmount(value)
			if !ok || !okFixed {
				continue
			}
			margin := price.Mul(kwhPerMWh).Sub(fixed).Abs()
			updates.add(marginColumns[j], s.Set(i, marginColumns[j], FormatDecimal(margin, 2)))
		}
	}
	return updates
}

// MarketSummary describes how many tenders have a profit margin and its
// spread.
type MarketSummary struct {
	TotalContracts       int              `json:"total_contracts"`
	ContractsWithMargins int              `json:"contracts_with_margins"`
	MarginCoverage       decimal.Decimal  `json:"margin_coverage_pct"`
	AverageMargin        *decimal.Decimal `json:"average_margin,omitempty"`
	MinMargin            *decimal.Decimal `json:"min_margin,omitempty"`
	MaxMargin            *decimal.Decimal `json:"max_margin,omitempty"`
}

func Summarize(s *Sheet) MarketSummary {
	summary := MarketSummary{TotalContracts: len(s.Rows), MarginCoverage: decimal.Zero}

	var margins []decimal.Decimal
	for i := range s.Rows {
		if m, ok := ParseAmount(s.Get(i, ColumnProfitMargin)); ok {
			margins = append(margins, m)
		}
	}
	summary.ContractsWithMargins = len(margins)
	if summary.TotalContracts > 0 {
		summary.MarginCoverage = decimal.NewFromInt(int64(len(margins))).
			Div(decimal.NewFromInt(int64(summary.TotalContracts))).
			Mul(decimal.NewFromInt(100)).Round(1)
	}
	if len(margins) == 0 {
		return summary
	}

	avg := decimal.Avg(margins[0], margins[1:]...).Round(2)
	lo := decimal.Min(margins[0], margins[1:]...).Round(2)
	hi := decimal.Max(margins[0], margins[1:]...).Round(2)
	summary.AverageMargin, summary.MinMargin, summary.MaxMargin = &avg, &lo, &hi
	return summary
}
