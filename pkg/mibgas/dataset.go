// Package mibgas reads MIBGAS trading data exports and answers which forward
// index quotes were published for a given price date.
package mibgas

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/gregtusar/gasprice/pkg/models"
)

const (
	DefaultSheet      = "Trading Data PVB&VTP"
	DefaultMinIndices = 8

	// MIBGAS exports keep the last price in column I.
	fallbackPriceColumn = 8
	headerSearchRows    = 10
)

var (
	ErrNoTradingDay = errors.New("no trading data on or before date")
	ErrBadHeader    = errors.New("trading data header not found")
)

type Options struct {
	Sheet      string
	MinIndices int
	Logger     *logrus.Logger
}

// Snapshot is the set of forward quotes published on one trading day.
type Snapshot struct {
	TradingDay time.Time           `json:"trading_day"`
	Quotes     []models.IndexQuote `json:"quotes"`
}

type Dataset struct {
	days       map[time.Time][]models.IndexQuote
	sorted     []time.Time
	minIndices int
	logger     *logrus.Logger
}

// Load opens an .xlsx workbook or a .csv export, chosen by file extension.
func Load(path string, opts Options) (*Dataset, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path, opts.Sheet)
	case ".csv", ".txt":
		rows, err = readCSVFile(path)
	default:
		return nil, fmt.Errorf("unsupported trading data file %s", path)
	}
	if err != nil {
		return nil, err
	}

	ds, err := FromRows(rows, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds.logger.WithFields(logrus.Fields{
		"file":         path,
		"trading_days": len(ds.sorted),
	}).Info("Loaded trading data")
	return ds, nil
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = DefaultSheet
	}
	found := false
	for _, name := range f.GetSheetList() {
		if strings.EqualFold(name, sheet) {
			sheet = name
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("sheet %q not found in %s", sheet, path)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSVFile(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file)
}

// ReadCSV reads a ';' or ',' separated export, detected from the first line.
func ReadCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	first := string(data)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if strings.Count(first, ";") > strings.Count(first, ",") {
		reader.Comma = ';'
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return rows, nil
}

type columns struct {
	day, product, price int
}

func locateColumns(rows [][]string) (int, columns, error) {
	for r := 0; r < len(rows) && r < headerSearchRows; r++ {
		cols := columns{day: -1, product: -1, price: -1}
		for i, cell := range rows[r] {
			h := strings.ToLower(strings.TrimSpace(cell))
			switch {
			case cols.day < 0 && strings.Contains(h, "trading day"):
				cols.day = i
			case cols.product < 0 && (strings.Contains(h, "product") || strings.Contains(h, "code")):
				cols.product = i
			case cols.price < 0 && strings.Contains(h, "last price"):
				cols.price = i
			}
		}
		if cols.day < 0 || cols.product < 0 {
			continue
		}
		if cols.price < 0 {
			cols.price = fallbackPriceColumn
		}
		return r, cols, nil
	}
	return 0, columns{}, ErrBadHeader
}

// FromRows builds a dataset from sheet rows including the header row.
func FromRows(rows [][]string, opts Options) (*Dataset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	minIndices := opts.MinIndices
	if minIndices <= 0 {
		minIndices = DefaultMinIndices
	}

	headerRow, cols, err := locateColumns(rows)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		days:       make(map[time.Time][]models.IndexQuote),
		minIndices: minIndices,
		logger:     logger,
	}
	seen := make(map[time.Time]map[models.IndexCode]bool)
	skipped := 0

	for r := headerRow + 1; r < len(rows); r++ {
		row := rows[r]
		if len(row) <= cols.day || len(row) <= cols.product || len(row) <= cols.price {
			continue
		}
		code, err := models.ParseIndexCode(row[cols.product])
		if err != nil {
			// daily, weekend and within-day products
			continue
		}
		day, err := ParseTradingDay(row[cols.day])
		if err != nil {
			skipped++
			continue
		}
		raw := strings.TrimSpace(row[cols.price])
		if raw == "" || raw == "-" {
			continue
		}
		value, err := models.ParseDecimal(raw)
		if err != nil {
			skipped++
			continue
		}

		if seen[day] == nil {
			seen[day] = make(map[models.IndexCode]bool)
		}
		if seen[day][code] {
			continue
		}
		seen[day][code] = true
		ds.days[day] = append(ds.days[day], models.IndexQuote{Code: code, Value: value})
	}

	for day := range ds.days {
		ds.sorted = append(ds.sorted, day)
	}
	sort.Slice(ds.sorted, func(i, j int) bool { return ds.sorted[i].Before(ds.sorted[j]) })

	if skipped > 0 {
		logger.WithField("rows", skipped).Warn("Skipped unreadable trading data rows")
	}
	return ds, nil
}

var dayLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01-02-06",
}

// ParseTradingDay accepts Excel serial dates and the common text layouts.
func ParseTradingDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return truncateDay(t), nil
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid trading day %q", s)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (d *Dataset) TradingDays() []time.Time {
	out := make([]time.Time, len(d.sorted))
	copy(out, d.sorted)
	return out
}

func (d *Dataset) onOrBefore(date time.Time) (*Snapshot, bool) {
	day := truncateDay(date)
	i := sort.Search(len(d.sorted), func(i int) bool { return d.sorted[i].After(day) })
	if i == 0 {
		return nil, false
	}
	tradingDay := d.sorted[i-1]
	quotes := make([]models.IndexQuote, len(d.days[tradingDay]))
	copy(quotes, d.days[tradingDay])
	return &Snapshot{TradingDay: tradingDay, Quotes: quotes}, true
}

// QuotesOn returns the quotes of the price date, or of the closest earlier
// trading day. When that day published fewer than the minimum number of
// forward products, the session two days earlier is used instead if it has
// the minimum or simply more of them.
func (d *Dataset) QuotesOn(date time.Time) (*Snapshot, error) {
	snap, ok := d.onOrBefore(date)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTradingDay, date.Format("2006-01-02"))
	}
	if len(snap.Quotes) >= d.minIndices {
		return snap, nil
	}

	earlier, ok := d.onOrBefore(date.AddDate(0, 0, -2))
	if ok && (len(earlier.Quotes) >= d.minIndices || len(earlier.Quotes) > len(snap.Quotes)) {
		d.logger.WithFields(logrus.Fields{
			"price_date":  date.Format("2006-01-02"),
			"trading_day": earlier.TradingDay.Format("2006-01-02"),
			"indices":     len(earlier.Quotes),
		}).Debug("Using earlier session with more forward indices")
		return earlier, nil
	}
	return snap, nil
}
