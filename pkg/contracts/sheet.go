// Package contracts reads and updates the tender spreadsheets produced by the
// extraction scripts: one row per public tender, ';' separated, with the
// original Portuguese column headers.
package contracts

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	ColumnID                = "N.º CONCURSO"
	ColumnName              = "NOME"
	ColumnPriceDate         = "Price Date"
	ColumnDuration          = "PRAZOS CONTRATUAIS.DE FORNECIMENTO"
	ColumnStartDate         = "PRAZOS CONTRATUAIS.INICIO"
	ColumnStartMonth        = "Start supply month"
	ColumnWinningProposal   = "Proposta_Vencedor"
	ColumnConsumption       = "CONSUMO TOTAL.kWh"
	ColumnFixedPrice        = "Fixed price"
	ColumnProfitMargin      = "Profit_Margin (€/MWh)"
	ColumnRealProfit        = "Real profit"
	ColumnReferenceProposal = "Reference_Entity_Proposal"
	ColumnReferenceMargin   = "Margin_Reference"

	CompetitorPrefix       = "PROPOSTA CONCORRENTES €/kWh."
	CompetitorMarginPrefix = "Margin_"
)

var ErrContractNotFound = errors.New("contract not found")

// Sheet keeps every column of the file so that a rewrite only touches the
// columns this package computes.
type Sheet struct {
	Headers []string
	Rows    []map[string]string
	Comma   rune
}

func LoadSheet(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet, err := ReadSheet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sheet, nil
}

func ReadSheet(r io.Reader) (*Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	comma := ';'
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	if !bytes.ContainsRune(firstLine, ';') && bytes.ContainsRune(firstLine, ',') {
		comma = ','
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse sheet: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty sheet")
	}

	sheet := &Sheet{Comma: comma}
	for _, h := range records[0] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(h))
	}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(sheet.Headers))
		for i, h := range sheet.Headers {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

func (s *Sheet) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.Comma = s.Comma
	if err := writer.Write(s.Headers); err != nil {
		return err
	}
	record := make([]string, len(s.Headers))
	for _, row := range s.Rows {
		for i, h := range s.Headers {
			record[i] = row[h]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Save writes to a temporary file next to path and renames it into place.
func (s *Sheet) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := s.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write sheet: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Sheet) HasColumn(column string) bool {
	for _, h := range s.Headers {
		if h == column {
			return true
		}
	}
	return false
}

// EnsureColumn appends the column, filled with def, when it is absent.
func (s *Sheet) EnsureColumn(column, def string) {
	if s.HasColumn(column) {
		return
	}
	s.Headers = append(s.Headers, column)
	for _, row := range s.Rows {
		row[column] = def
	}
}

func (s *Sheet) Get(row int, column string) string {
	if row < 0 || row >= len(s.Rows) {
		return ""
	}
	return strings.TrimSpace(s.Rows[row][column])
}

// Set updates a cell and reports whether the value changed.
func (s *Sheet) Set(row int, column, value string) bool {
	s.EnsureColumn(column, "")
	if s.Rows[row][column] == value {
		return false
	}
	s.Rows[row][column] = value
	return true
}

// Columns returns the headers starting with prefix, in file order.
func (s *Sheet) Columns(prefix string) []string {
	var out []string
	for _, h := range s.Headers {
		if strings.HasPrefix(h, prefix) {
			out = append(out, h)
		}
	}
	return out
}

// Find locates a tender by its N.º CONCURSO, falling back to a 1-based row
// number when no id matches.
func (s *Sheet) Find(id string) (int, error) {
	id = strings.TrimSpace(id)
	for i := range s.Rows {
		if s.Get(i, ColumnID) == id {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(id); err == nil && n >= 1 && n <= len(s.Rows) {
		return n - 1, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrContractNotFound, id)
}
