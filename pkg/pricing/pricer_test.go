package pricing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/gasprice/pkg/contracts"
	"github.com/gregtusar/gasprice/pkg/mibgas"
	"github.com/gregtusar/gasprice/pkg/models"
)

func tradingRows() [][]string {
	rows := [][]string{{"Trading day", "Product", "Area", "Last Price"}}
	add := func(day, product, price string) {
		rows = append(rows, []string{day, product, "ES", price})
	}
	for _, q := range [][2]string{
		{"GMES_M+2", "26,50"}, {"GQES_Q+1", "27,15"}, {"GQES_Q+2", "29,72"},
		{"GYES_Y+1", "30,60"}, {"GYES_Y+2", "28,57"}, {"GMAES", "25,10"},
		{"GMES_M+3", "26,90"}, {"GYES_Y+3", "27,00"},
	} {
		add("2024-04-05", q[0], q[1])
	}
	add("2024-04-05", "GDAES_D+1", "24,00")
	return rows
}

func newPricer(t *testing.T, opts ...Option) *Pricer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ds, err := mibgas.FromRows(tradingRows(), mibgas.Options{Logger: logger})
	require.NoError(t, err)
	return NewPricer(ds, logger, opts...)
}

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *memoryRecorder) Record(_ context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func contract(id string, priceDate time.Time, duration int, start models.Month) models.Contract {
	return models.Contract{ID: id, PriceDate: priceDate, DurationMonths: duration, StartMonth: start}
}

func TestPriceContract(t *testing.T) {
	rec := &memoryRecorder{}
	p := newPricer(t, WithRecorder(rec))

	// a Sunday: falls back to Friday's session
	out := p.PriceContract(context.Background(),
		contract("CP-1", time.Date(2024, time.April, 7, 0, 0, 0, 0, time.UTC), 24, models.NewMonth(2024, time.June)))

	require.Equal(t, StatusPriced, out.Status, out.Reason)
	assert.Equal(t, "29.47", out.Result.WeightedAverage.StringFixed(2))
	assert.Equal(t, time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC), out.TradingDay)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "CP-1", rec.outcomes[0].Contract.ID)
}

func TestPriceContract_Skipped(t *testing.T) {
	p := newPricer(t)
	out := p.PriceContract(context.Background(), models.Contract{ID: "CP-2", DurationMonths: 12})

	assert.Equal(t, StatusSkipped, out.Status)
	assert.Contains(t, out.Reason, "price date")
	assert.Contains(t, out.Reason, "start supply month")
	assert.Equal(t, Stats{Skipped: 1}, p.Stats())
}

func TestPriceContract_Failed(t *testing.T) {
	rec := &memoryRecorder{}
	p := newPricer(t, WithRecorder(rec))

	before := p.PriceContract(context.Background(),
		contract("CP-3", time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC), 12, models.NewMonth(2023, time.March)))
	assert.Equal(t, StatusFailed, before.Status)
	assert.True(t, errors.Is(before.Err, mibgas.ErrNoTradingDay))

	// nothing forward prices the reference month itself
	noQuote := p.PriceContract(context.Background(),
		contract("CP-4", time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC), 12, models.NewMonth(2024, time.April)))
	assert.Equal(t, StatusFailed, noQuote.Status)
	assert.True(t, IsNoQuote(noQuote))

	assert.Empty(t, rec.outcomes)
	assert.Equal(t, Stats{Failed: 2}, p.Stats())
}

func TestPriceContracts_KeepsOrder(t *testing.T) {
	p := newPricer(t, WithWorkers(2))
	ref := time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC)

	var list []models.Contract
	for i := 0; i < 10; i++ {
		id := string(rune('A' + i))
		list = append(list, contract(id, ref, 12+i, models.NewMonth(2024, time.June)))
	}
	list = append(list, models.Contract{ID: "missing"})

	outcomes, err := p.PriceContracts(context.Background(), list)
	require.NoError(t, err)
	require.Len(t, outcomes, len(list))
	for i, o := range outcomes {
		assert.Equal(t, list[i].ID, o.Contract.ID)
	}
	assert.Equal(t, StatusSkipped, outcomes[len(list)-1].Status)
	assert.Equal(t, 10, p.Stats().Priced)
}

func TestPriceContracts_Cancelled(t *testing.T) {
	p := newPricer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.PriceContracts(ctx, []models.Contract{{ID: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPriceSheet(t *testing.T) {
	const data = `N.º CONCURSO;Price Date;PRAZOS CONTRATUAIS.DE FORNECIMENTO;Start supply month;Fixed price
CP-1;05/04/2024;24 meses;06-June;-
CP-2;-;12;-;-
`
	sheet, err := contracts.ReadSheet(strings.NewReader(data))
	require.NoError(t, err)

	p := newPricer(t)
	outcomes, err := p.PriceSheet(context.Background(), sheet)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, StatusPriced, outcomes[0].Status)
	assert.Equal(t, "29,47", sheet.Get(0, contracts.ColumnFixedPrice))
	assert.Equal(t, StatusSkipped, outcomes[1].Status)
	assert.Equal(t, "CP-2", outcomes[1].Contract.ID)
	assert.Equal(t, "-", sheet.Get(1, contracts.ColumnFixedPrice))
}

func TestNewPricer_Defaults(t *testing.T) {
	p := NewPricer(nil, nil, WithWorkers(0))
	assert.Equal(t, DefaultWorkers, p.workers)
	assert.NotNil(t, p.logger)
	assert.IsType(t, &logrus.Logger{}, p.logger)
}

func TestPriceSnapshot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPricer(nil, logger)
	assert.False(t, p.HasDataset())

	q, err := models.ParseQuotes(map[string]string{"GQES_Q+1": "27,15"})
	require.NoError(t, err)
	ref := time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC)
	out := p.PriceSnapshot(context.Background(),
		contract("inline", ref, 3, models.NewMonth(2024, time.July)),
		&mibgas.Snapshot{TradingDay: ref, Quotes: q})
	require.Equal(t, StatusPriced, out.Status)
	assert.Equal(t, "27.15", out.Result.WeightedAverage.StringFixed(2))

	missing := p.PriceContract(context.Background(), contract("ds", ref, 3, models.NewMonth(2024, time.July)))
	assert.Equal(t, StatusFailed, missing.Status)
	assert.ErrorIs(t, missing.Err, ErrNoDataset)
}
