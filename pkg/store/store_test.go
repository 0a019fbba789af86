package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/gasprice/pkg/allocation"
	"github.com/gregtusar/gasprice/pkg/models"
	"github.com/gregtusar/gasprice/pkg/pricing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func priced(t *testing.T, id string, price string) pricing.Outcome {
	t.Helper()
	q, err := models.ParseQuotes(map[string]string{"GQES_Q+1": price})
	require.NoError(t, err)
	c := models.Contract{
		ID:             id,
		PriceDate:      time.Date(2024, time.April, 5, 0, 0, 0, 0, time.UTC),
		DurationMonths: 3,
		StartMonth:     models.NewMonth(2024, time.July),
	}
	res, err := allocation.Allocate(c.Schedule(), q)
	require.NoError(t, err)
	return pricing.Outcome{
		Contract:   c,
		Status:     pricing.StatusPriced,
		TradingDay: c.PriceDate,
		Result:     res,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, priced(t, "CP-1", "27.15")))
	require.NoError(t, s.Record(ctx, priced(t, "CP-1", "28.00")))

	r, err := s.Get(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, "28.00", r.Price.StringFixed(2))
	assert.Equal(t, "2024-04-05", r.PriceDate)
	assert.Equal(t, "2024-07", r.StartMonth)
	assert.Equal(t, 3, r.DurationMonths)
	require.NotNil(t, r.Allocation)
	require.Len(t, r.Allocation.Entries, 1)
	assert.Equal(t, "GQES_Q+1", r.Allocation.Entries[0].Code.String())
	assert.Equal(t, 3, r.Allocation.Entries[0].Months)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestStore_RecordIgnoresFailures(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, pricing.Outcome{
		Contract: models.Contract{ID: "CP-2"},
		Status:   pricing.StatusFailed,
	}))
	_, err := s.Get(ctx, "CP-2")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_RecordIgnoresAnonymousContracts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, priced(t, "", "27.15")))
	records, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_List(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i, id := range []string{"A", "B", "C"} {
		_, err := s.Save(ctx, Record{
			ContractID: id,
			PriceDate:  "2024-04-05",
			TradingDay: "2024-04-05",
			StartMonth: "2024-06",
			Price:      decimal.NewFromInt(int64(30 + i)),
		})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "C", all[0].ContractID)
	assert.Equal(t, "A", all[2].ContractID)
	assert.Nil(t, all[0].Allocation)

	latest, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "32.00", latest[0].Price.StringFixed(2))
}

func TestOpen_Memory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := Open(":memory:", logger)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Save(context.Background(), Record{ContractID: "M", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	records, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
