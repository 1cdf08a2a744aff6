// Package trend computes significance-filtered percentage changes of a
// metric over configurable comparison periods, from the tiered store's
// historical rollups.
package trend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// ErrInsufficientHistory means no comparison point exists near the target
// time. Compute still returns the neutral stable result alongside it, so
// callers that render dashboards can use the result and drop the error.
var ErrInsufficientHistory = errors.New("insufficient history for comparison")

// Periods supported by the trend query API.
var Periods = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// HistoryIterator is the lazy historical sequence the calculator consumes.
type HistoryIterator interface {
	Next() bool
	Record() model.RollupRecord
	Err() error
	Close() error
}

// HistorySource answers ranged historical queries for one metric.
type HistorySource interface {
	GetHistorical(ctx context.Context, metricKey string, window, resolution time.Duration) (HistoryIterator, error)
}

// Calculator computes trends against a significance threshold (percent, 0.1
// by default) below which changes are reported as stable.
type Calculator struct {
	history             HistorySource
	significancePercent float64
	logger              *slog.Logger
	now                 func() time.Time
}

func NewCalculator(history HistorySource, significancePercent float64, logger *slog.Logger) *Calculator {
	if significancePercent <= 0 {
		significancePercent = 0.1
	}
	return &Calculator{
		history:             history,
		significancePercent: significancePercent,
		logger:              logger.With("component", "trend_calculator"),
		now:                 time.Now,
	}
}

// Compute compares currentValue against the historical value closest to
// now-period and classifies the change.
func (c *Calculator) Compute(ctx context.Context, metricKey string, currentValue float64, period time.Duration) (model.TrendResult, error) {
	resolution := resolutionFor(period)
	target := c.now().Add(-period)

	iter, err := c.history.GetHistorical(ctx, metricKey, period+resolution, resolution)
	if err != nil {
		return neutral(currentValue, period), fmt.Errorf("querying history for %s: %w", metricKey, err)
	}
	defer iter.Close()

	previous, dist, found := closestTo(iter, target)
	if err := iter.Err(); err != nil {
		return neutral(currentValue, period), fmt.Errorf("iterating history for %s: %w", metricKey, err)
	}
	// The comparison point must bracket the target time, at most one bucket
	// away. A record from much later would turn "trend over the period" into
	// a comparison against near-now data.
	if !found || dist > resolution {
		return neutral(currentValue, period), ErrInsufficientHistory
	}
	return c.classify(currentValue, previous.Avg, period), nil
}

// closestTo scans the ascending sequence for the record whose bucket start is
// nearest the target time and reports its distance.
func closestTo(iter HistoryIterator, target time.Time) (model.RollupRecord, time.Duration, bool) {
	var best model.RollupRecord
	bestDist := time.Duration(math.MaxInt64)
	found := false
	for iter.Next() {
		rec := iter.Record()
		dist := rec.BucketStart.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist, found = rec, dist, true
		} else {
			// Ascending order: once the distance grows, it keeps growing.
			break
		}
	}
	return best, bestDist, found
}

func (c *Calculator) classify(current, previous float64, period time.Duration) model.TrendResult {
	result := model.TrendResult{
		CurrentValue:     current,
		PreviousValue:    previous,
		AbsoluteChange:   current - previous,
		ComparisonPeriod: period,
	}

	switch {
	case previous == 0 && current == 0:
		result.PercentageChange = 0
	case previous == 0:
		// No finite baseline: report a full-scale change in the sign of the
		// current value so the payload stays JSON-encodable.
		result.PercentageChange = math.Copysign(100, current)
	default:
		result.PercentageChange = (current - previous) / previous * 100
	}

	result.IsSignificant = math.Abs(result.PercentageChange) >= c.significancePercent
	if !result.IsSignificant {
		result.Direction = model.TrendStable
		result.Rendered = "±0.0%"
		return result
	}
	if result.PercentageChange > 0 {
		result.Direction = model.TrendUp
	} else {
		result.Direction = model.TrendDown
	}
	result.Rendered = fmt.Sprintf("%+.1f%%", result.PercentageChange)
	return result
}

func neutral(current float64, period time.Duration) model.TrendResult {
	return model.TrendResult{
		CurrentValue:     current,
		PreviousValue:    current,
		ComparisonPeriod: period,
		Direction:        model.TrendStable,
		Rendered:         "±0.0%",
	}
}

// resolutionFor picks the query granularity for a comparison period: raw
// minutes for short windows, hourly up to two days, daily beyond.
func resolutionFor(period time.Duration) time.Duration {
	switch {
	case period <= 6*time.Hour:
		return time.Minute
	case period <= 48*time.Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}
