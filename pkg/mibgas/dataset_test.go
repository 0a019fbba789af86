package mibgas

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gregtusar/gasprice/pkg/models"
)

var header = []string{"Trading Day", "Product", "Area", "First Day Delivery", "Last Day Delivery",
	"Open Price", "Max Price", "Min Price", "Last Price [EUR/MWh]"}

func row(day, product, price string) []string {
	return []string{day, product, "ES", "", "", "", "", "", price}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quoteMap(s *Snapshot) map[string]string {
	out := make(map[string]string, len(s.Quotes))
	for _, q := range s.Quotes {
		out[q.Code.String()] = q.Value.String()
	}
	return out
}

func fullSession(d string) [][]string {
	products := []string{"GMAES", "GMES_M+2", "GMES_M+3", "GQES_Q+1", "GQES_Q+2", "GQES_Q+3", "GQES_Q+4", "GYES_Y+1", "GYES_Y+2"}
	rows := make([][]string, 0, len(products))
	for i, p := range products {
		rows = append(rows, row(d, p, fmt.Sprintf("3%d,50", i)))
	}
	return rows
}

func TestFromRows_FiltersForwardProducts(t *testing.T) {
	rows := [][]string{
		{"MIBGAS Trading Data"},
		header,
		row("05/04/2024", "GDAES_D+1", "25,10"),
		row("05/04/2024", "GMES_M+2", "26,50"),
		row("05/04/2024", "GQES_Q+1", "27,15"),
		row("05/04/2024", "GQES_Q+1", "99,99"),
		row("05/04/2024", "GYES_Y+1", "-"),
	}

	ds, err := FromRows(rows, Options{})
	require.NoError(t, err)

	snap, err := ds.QuotesOn(day(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.April, 5), snap.TradingDay)
	assert.Equal(t, map[string]string{"GMES_M+2": "26.5", "GQES_Q+1": "27.15"}, quoteMap(snap))
}

func TestFromRows_MissingHeader(t *testing.T) {
	_, err := FromRows([][]string{{"a", "b"}, {"1", "2"}}, Options{})
	assert.True(t, errors.Is(err, ErrBadHeader))
}

func TestQuotesOn_ClosestEarlierDay(t *testing.T) {
	rows := [][]string{header}
	rows = append(rows, fullSession("2024-04-04")...)
	rows = append(rows, fullSession("2024-04-08")...)

	ds, err := FromRows(rows, Options{})
	require.NoError(t, err)

	// Saturday 6 April has no session
	snap, err := ds.QuotesOn(day(2024, time.April, 6))
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.April, 4), snap.TradingDay)
	assert.Len(t, snap.Quotes, 9)

	_, err = ds.QuotesOn(day(2024, time.April, 1))
	assert.True(t, errors.Is(err, ErrNoTradingDay))
}

func TestQuotesOn_ThinSessionFallsBackTwoDays(t *testing.T) {
	rows := [][]string{header}
	rows = append(rows, fullSession("2024-04-03")...)
	rows = append(rows,
		row("2024-04-05", "GMAES", "30,00"),
		row("2024-04-05", "GYES_Y+1", "31,00"),
	)

	ds, err := FromRows(rows, Options{})
	require.NoError(t, err)

	snap, err := ds.QuotesOn(day(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.April, 3), snap.TradingDay)
	assert.Len(t, snap.Quotes, 9)
}

func TestQuotesOn_ThinSessionKeptWhenEarlierIsThinner(t *testing.T) {
	rows := [][]string{header,
		row("2024-04-03", "GMAES", "29,00"),
		row("2024-04-05", "GMAES", "30,00"),
		row("2024-04-05", "GYES_Y+1", "31,00"),
	}

	ds, err := FromRows(rows, Options{MinIndices: 8})
	require.NoError(t, err)

	snap, err := ds.QuotesOn(day(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.April, 5), snap.TradingDay)
}

func TestLoad_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MIBGAS_Data_2024.xlsx")

	f := excelize.NewFile()
	_, err := f.NewSheet(DefaultSheet)
	require.NoError(t, err)
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = h
	}
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A1", &cells))
	data := []struct {
		product string
		price   float64
	}{
		{"GMES_M+2", 26.50},
		{"GQES_Q+1", 27.15},
		{"GYES_Y+1", 30.60},
	}
	for i, d := range data {
		r := []interface{}{day(2024, time.April, 5), d.product, "ES", nil, nil, nil, nil, nil, d.price}
		require.NoError(t, f.SetSheetRow(DefaultSheet, fmt.Sprintf("A%d", i+2), &r))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ds, err := Load(path, Options{})
	require.NoError(t, err)

	snap, err := ds.QuotesOn(day(2024, time.April, 5))
	require.NoError(t, err)
	assert.Equal(t, day(2024, time.April, 5), snap.TradingDay)
	assert.Equal(t, map[string]string{"GMES_M+2": "26.5", "GQES_Q+1": "27.15", "GYES_Y+1": "30.6"}, quoteMap(snap))
}

func TestLoad_SemicolonCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading.csv")
	lines := []string{
		strings.Join(header, ";"),
		strings.Join(row("15/03/2024", "GMES_M+2", "26,92"), ";"),
		strings.Join(row("15/03/2024", "GQES_Q+2", "27,30"), ";"),
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644))

	ds, err := Load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2024, time.March, 15)}, ds.TradingDays())

	snap, err := ds.QuotesOn(day(2024, time.March, 15))
	require.NoError(t, err)
	v, ok := models.NewQuoteSet(snap.Quotes).Lookup(models.QuarterCode(2))
	require.True(t, ok)
	assert.Equal(t, "27.3", v.String())
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load("prices.json", Options{})
	assert.Error(t, err)
}

func TestParseTradingDay(t *testing.T) {
	tests := map[string]time.Time{
		"2024-04-05":          day(2024, time.April, 5),
		"05/04/2024":          day(2024, time.April, 5),
		"05-04-2024":          day(2024, time.April, 5),
		"2024-04-05 00:00:00": day(2024, time.April, 5),
		"45387":               day(2024, time.April, 5),
	}
	for input, want := range tests {
		got, err := ParseTradingDay(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseTradingDay("yesterday")
	assert.Error(t, err)
}
