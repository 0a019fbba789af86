// Package store keeps a sqlite history of priced contracts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/gregtusar/gasprice/pkg/allocation"
	"github.com/gregtusar/gasprice/pkg/pricing"
)

var ErrNotFound = errors.New("no priced contract found")

const schema = `
CREATE TABLE IF NOT EXISTS priced_contracts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	contract_id     TEXT NOT NULL,
	price_date      TEXT NOT NULL,
	trading_day     TEXT NOT NULL,
	duration_months INTEGER NOT NULL,
	start_month     TEXT NOT NULL,
	price           TEXT NOT NULL,
	allocation_json TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_priced_contracts_contract ON priced_contracts(contract_id, id);
`

const dateLayout = "2006-01-02"

// Record is one stored pricing run.
type Record struct {
	ID             int64              `json:"id"`
	ContractID     string             `json:"contract_id"`
	PriceDate      string             `json:"price_date"`
	TradingDay     string             `json:"trading_day"`
	DurationMonths int                `json:"duration_months"`
	StartMonth     string             `json:"start_month"`
	Price          decimal.Decimal    `json:"price"`
	Allocation     *allocation.Result `json:"allocation"`
	CreatedAt      time.Time          `json:"created_at"`
}

type Store struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" keeps the
// history in process.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	logger.WithField("path", path).Info("Opened pricing history")
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements pricing.Recorder. Only priced contracts that carry an id
// are kept; history is looked up by contract id.
func (s *Store) Record(ctx context.Context, o pricing.Outcome) error {
	if o.Status != pricing.StatusPriced || o.Result == nil || o.Contract.ID == "" {
		return nil
	}
	_, err := s.Save(ctx, Record{
		ContractID:     o.Contract.ID,
		PriceDate:      o.Contract.PriceDate.Format(dateLayout),
		TradingDay:     o.TradingDay.Format(dateLayout),
		DurationMonths: o.Contract.DurationMonths,
		StartMonth:     o.Contract.StartMonth.String(),
		Price:          o.Result.WeightedAverage,
		Allocation:     o.Result,
	})
	return err
}

func (s *Store) Save(ctx context.Context, r Record) (int64, error) {
	allocationJSON, err := json.Marshal(r.Allocation)
	if err != nil {
		return 0, fmt.Errorf("failed to encode allocation: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO priced_contracts
			(contract_id, price_date, trading_day, duration_months, start_month, price, allocation_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ContractID, r.PriceDate, r.TradingDay, r.DurationMonths, r.StartMonth,
		r.Price.StringFixed(2), string(allocationJSON), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to save priced contract %s: %w", r.ContractID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"contract_id": r.ContractID,
		"id":          id,
	}).Debug("Saved priced contract")
	return id, nil
}

const selectColumns = `id, contract_id, price_date, trading_day, duration_months, start_month, price, allocation_json, created_at`

// List returns the most recent records first. A non-positive limit returns
// everything.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM priced_contracts ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list priced contracts: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns the latest record for a contract.
func (s *Store) Get(ctx context.Context, contractID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM priced_contracts WHERE contract_id = ? ORDER BY id DESC LIMIT 1`,
		contractID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, contractID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r              Record
		price, created string
		allocationJSON string
	)
	if err := sc.Scan(&r.ID, &r.ContractID, &r.PriceDate, &r.TradingDay, &r.DurationMonths,
		&r.StartMonth, &price, &allocationJSON, &created); err != nil {
		return Record{}, err
	}

	var err error
	if r.Price, err = decimal.NewFromString(price); err != nil {
		return Record{}, fmt.Errorf("record %d: invalid price: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(allocationJSON), &r.Allocation); err != nil {
		return Record{}, fmt.Errorf("record %d: invalid allocation: %w", r.ID, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Record{}, fmt.Errorf("record %d: invalid timestamp: %w", r.ID, err)
	}
	return r, nil
}
