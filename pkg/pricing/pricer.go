// Package pricing runs the allocation engine over tender contracts, resolving
// each contract's quotes from the trading data of its price date.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gregtusar/gasprice/pkg/allocation"
	"github.com/gregtusar/gasprice/pkg/contracts"
	"github.com/gregtusar/gasprice/pkg/mibgas"
	"github.com/gregtusar/gasprice/pkg/models"
)

const DefaultWorkers = 4

var ErrNoDataset = errors.New("no trading data loaded")

type Status string

const (
	StatusPriced  Status = "priced"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// QuoteSource is satisfied by *mibgas.Dataset.
type QuoteSource interface {
	QuotesOn(date time.Time) (*mibgas.Snapshot, error)
}

// Recorder persists successfully priced contracts.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Outcome is the pricing result of one contract. Result is set only when
// Status is StatusPriced; Reason explains the other statuses.
type Outcome struct {
	Contract   models.Contract    `json:"contract"`
	Status     Status             `json:"status"`
	TradingDay time.Time          `json:"trading_day,omitempty"`
	Result     *allocation.Result `json:"result,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Err        error              `json:"-"`
}

type Stats struct {
	Priced  int `json:"priced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Pricer struct {
	source   QuoteSource
	recorder Recorder
	workers  int
	logger   *logrus.Logger
	mu       sync.RWMutex
	stats    Stats
}

type Option func(*Pricer)

func WithRecorder(r Recorder) Option {
	return func(p *Pricer) { p.recorder = r }
}

func WithWorkers(n int) Option {
	return func(p *Pricer) {
		if n > 0 {
			p.workers = n
		}
	}
}

func NewPricer(source QuoteSource, logger *logrus.Logger, opts ...Option) *Pricer {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Pricer{
		source:  source,
		workers: DefaultWorkers,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PriceContract prices a single contract. Failures are reported in the
// outcome rather than returned.
func (p *Pricer) PriceContract(ctx context.Context, c models.Contract) Outcome {
	out := Outcome{Contract: c}
	log := p.logger.WithField("contract_id", c.ID)

	if missing := c.MissingFields(); len(missing) > 0 {
		out.Status = StatusSkipped
		out.Reason = "missing " + strings.Join(missing, ", ")
		log.WithField("reason", out.Reason).Debug("Skipping contract")
		p.count(out.Status)
		return out
	}

	snap, err := p.Quotes(c.PriceDate)
	if err != nil {
		return p.fail(log, out, fmt.Errorf("quotes for %s: %w", c.PriceDate.Format("2006-01-02"), err))
	}
	return p.price(ctx, log, out, snap)
}

// PriceSnapshot prices a contract against quotes supplied by the caller
// instead of the trading data.
func (p *Pricer) PriceSnapshot(ctx context.Context, c models.Contract, snap *mibgas.Snapshot) Outcome {
	return p.price(ctx, p.logger.WithField("contract_id", c.ID), Outcome{Contract: c}, snap)
}

func (p *Pricer) price(ctx context.Context, log *logrus.Entry, out Outcome, snap *mibgas.Snapshot) Outcome {
	c := out.Contract
	out.TradingDay = snap.TradingDay

	res, err := allocation.Allocate(c.Schedule(), snap.Quotes)
	if err != nil {
		return p.fail(log, out, err)
	}
	out.Status = StatusPriced
	out.Result = res

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, out); err != nil {
			log.WithError(err).Error("Failed to record priced contract")
		}
	}

	log.WithFields(logrus.Fields{
		"trading_day": snap.TradingDay.Format("2006-01-02"),
		"price":       res.WeightedAverage.StringFixed(2),
		"indices":     len(res.Entries),
	}).Info("Priced contract")
	p.count(out.Status)
	return out
}

func (p *Pricer) fail(log *logrus.Entry, out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err
	out.Reason = err.Error()
	log.WithError(err).Warn("Failed to price contract")
	p.count(out.Status)
	return out
}

// PriceContracts prices contracts concurrently, at most Workers at a time.
// Outcomes are returned in input order. The only error returned is the
// context's.
func (p *Pricer) PriceContracts(ctx context.Context, list []models.Contract) ([]Outcome, error) {
	outcomes := make([]Outcome, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, c := range list {
		i, c := i, c
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.PriceContract(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// PriceSheet prices every row of a tender sheet and writes the fixed price of
// the priced rows back into it. Rows that cannot be parsed come back as
// skipped outcomes.
func (p *Pricer) PriceSheet(ctx context.Context, sheet *contracts.Sheet) ([]Outcome, error) {
	list, rowErrs := sheet.Contracts()
	outcomes, err := p.PriceContracts(ctx, list)
	if err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		if o.Status != StatusPriced {
			continue
		}
		sheet.Set(o.Contract.Row-1, contracts.ColumnFixedPrice, contracts.FormatDecimal(o.Result.WeightedAverage, 2))
	}

	for _, rowErr := range rowErrs {
		outcomes = append(outcomes, Outcome{
			Contract: models.Contract{ID: rowErr.ContractID, Row: rowErr.Row},
			Status:   StatusSkipped,
			Reason:   rowErr.Err.Error(),
			Err:      rowErr,
		})
		p.count(StatusSkipped)
	}
	return outcomes, nil
}

func (p *Pricer) count(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch s {
	case StatusPriced:
		p.stats.Priced++
	case StatusSkipped:
		p.stats.Skipped++
	case StatusFailed:
		p.stats.Failed++
	}
}

func (p *Pricer) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Quotes exposes the snapshot used for a price date.
func (p *Pricer) Quotes(date time.Time) (*mibgas.Snapshot, error) {
	if p.source == nil {
		return nil, ErrNoDataset
	}
	return p.source.QuotesOn(date)
}

func (p *Pricer) HasDataset() bool {
	return p.source != nil
}

// IsNoQuote reports whether an outcome failed because the market had no
// index for some month.
func IsNoQuote(o Outcome) bool {
	return errors.Is(o.Err, allocation.ErrNoQuote)
}
