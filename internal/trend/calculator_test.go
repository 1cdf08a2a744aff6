package trend

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

type fakeIterator struct {
	records []model.RollupRecord
	idx     int
	cur     model.RollupRecord
	closed  bool
}

func (f *fakeIterator) Next() bool {
	if f.idx >= len(f.records) {
		return false
	}
	f.cur = f.records[f.idx]
	f.idx++
	return true
}

func (f *fakeIterator) Record() model.RollupRecord { return f.cur }
func (f *fakeIterator) Err() error                 { return nil }
func (f *fakeIterator) Close() error               { f.closed = true; return nil }

type fakeHistory struct {
	iter *fakeIterator
}

func (f *fakeHistory) GetHistorical(context.Context, string, time.Duration, time.Duration) (HistoryIterator, error) {
	return f.iter, nil
}

func newTestCalculator(t *testing.T, records []model.RollupRecord) (*Calculator, *fakeIterator) {
	t.Helper()
	iter := &fakeIterator{records: records}
	calc := NewCalculator(&fakeHistory{iter: iter}, 0.1, slog.Default())
	return calc, iter
}

func historyAt(ts time.Time, avg float64) []model.RollupRecord {
	return []model.RollupRecord{{
		MetricKey:   "400kV_BUS_VOLTAGE",
		BucketWidth: time.Hour,
		BucketStart: ts,
		Avg:         avg,
		Min:         avg,
		Max:         avg,
		Count:       12,
	}}
}

func TestComputeSignificantRise(t *testing.T) {
	calc, iter := newTestCalculator(t, historyAt(time.Now().Add(-time.Hour), 33.3))

	result, err := calc.Compute(context.Background(), "400kV_BUS_VOLTAGE", 34.07, time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, 2.31, result.PercentageChange, 0.01)
	assert.Equal(t, model.TrendUp, result.Direction)
	assert.True(t, result.IsSignificant)
	assert.Equal(t, "+2.3%", result.Rendered)
	assert.InDelta(t, 0.77, result.AbsoluteChange, 0.001)
	assert.True(t, iter.closed, "calculator must close the history cursor")
}

func TestComputeBelowSignificanceIsStable(t *testing.T) {
	calc, _ := newTestCalculator(t, historyAt(time.Now().Add(-time.Hour), 50.00))

	result, err := calc.Compute(context.Background(), "frequency", 50.02, time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, 0.04, result.PercentageChange, 0.001)
	assert.False(t, result.IsSignificant)
	assert.Equal(t, model.TrendStable, result.Direction)
	assert.Equal(t, "±0.0%", result.Rendered)
}

func TestComputeZeroBaseline(t *testing.T) {
	t.Run("both zero is stable", func(t *testing.T) {
		calc, _ := newTestCalculator(t, historyAt(time.Now().Add(-time.Hour), 0))
		result, err := calc.Compute(context.Background(), "losses", 0, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, model.TrendStable, result.Direction)
		assert.Equal(t, 0.0, result.PercentageChange)
	})

	t.Run("rise from zero is maximally significant", func(t *testing.T) {
		calc, _ := newTestCalculator(t, historyAt(time.Now().Add(-time.Hour), 0))
		result, err := calc.Compute(context.Background(), "losses", 5, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, model.TrendUp, result.Direction)
		assert.True(t, result.IsSignificant)
	})

	t.Run("fall from zero points down", func(t *testing.T) {
		calc, _ := newTestCalculator(t, historyAt(time.Now().Add(-time.Hour), 0))
		result, err := calc.Compute(context.Background(), "losses", -5, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, model.TrendDown, result.Direction)
		assert.True(t, result.IsSignificant)
	})
}

func TestComputeInsufficientHistory(t *testing.T) {
	calc, _ := newTestCalculator(t, nil)

	result, err := calc.Compute(context.Background(), "total_power", 350, 24*time.Hour)
	require.ErrorIs(t, err, ErrInsufficientHistory)

	// The neutral result still renders for the dashboard.
	assert.Equal(t, model.TrendStable, result.Direction)
	assert.Equal(t, "±0.0%", result.Rendered)
	assert.Equal(t, 350.0, result.CurrentValue)
}

func TestComputePicksClosestBucket(t *testing.T) {
	target := time.Now().Add(-24 * time.Hour)
	records := []model.RollupRecord{
		{MetricKey: "m", BucketStart: target.Add(-45 * time.Minute), Avg: 10},
		{MetricKey: "m", BucketStart: target.Add(-10 * time.Minute), Avg: 20},
		{MetricKey: "m", BucketStart: target.Add(30 * time.Minute), Avg: 30},
	}
	calc, _ := newTestCalculator(t, records)

	result, err := calc.Compute(context.Background(), "m", 22, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 20.0, result.PreviousValue)
}

func TestComputeHistoryShorterThanPeriod(t *testing.T) {
	// Only a 2-hour-old record exists; a 30-day comparison must not be
	// computed against it.
	calc, _ := newTestCalculator(t, historyAt(time.Now().Add(-2*time.Hour), 100))

	result, err := calc.Compute(context.Background(), "total_power", 140, 30*24*time.Hour)
	require.ErrorIs(t, err, ErrInsufficientHistory)

	assert.Equal(t, model.TrendStable, result.Direction)
	assert.False(t, result.IsSignificant)
	assert.Equal(t, "±0.0%", result.Rendered)
	assert.Equal(t, 140.0, result.CurrentValue)
}

func TestComputeRejectsRecordOutsideBracket(t *testing.T) {
	target := time.Now().Add(-24 * time.Hour)
	// Nearest record is three buckets past the target at hourly resolution.
	calc, _ := newTestCalculator(t, historyAt(target.Add(3*time.Hour), 50))

	_, err := calc.Compute(context.Background(), "m", 60, 24*time.Hour)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestSupportedPeriods(t *testing.T) {
	for _, name := range []string{"1h", "6h", "24h", "7d", "30d"} {
		_, ok := Periods[name]
		assert.True(t, ok, "period %s must be supported", name)
	}
}

func TestRenderedSignsRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		previous float64
		current  float64
		rendered string
	}{
		{"rise", 100, 110, "+10.0%"},
		{"fall", 100, 90, "-10.0%"},
		{"tiny", 1000, 1000.5, "±0.0%"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc, _ := newTestCalculator(t, historyAt(time.Now().Add(-time.Hour), tc.previous))
			result, err := calc.Compute(context.Background(), "m", tc.current, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tc.rendered, result.Rendered)
		})
	}
}
