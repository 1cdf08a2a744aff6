// Package monitor polls current asset measurements against the configured
// thresholds on a fixed interval and raises threshold alerts through the
// deduplication guard.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/alerting"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

var (
	monitorCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_monitor_cycles_total",
		Help: "Completed threshold monitor cycles",
	})
	monitorCyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_monitor_cycles_skipped_total",
		Help: "Monitor cycles skipped because the previous cycle was still running",
	})
	staleSamplesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_monitor_stale_samples_total",
		Help: "Threshold evaluations skipped because the latest sample was stale",
	})
	thresholdViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_threshold_violations_total",
		Help: "Threshold violations detected by the monitor",
	})
)

// SampleSource supplies the latest measurement per asset metric.
type SampleSource interface {
	GetLatest(ctx context.Context, assetID, metricKey string) (*model.MetricSample, error)
}

// ThresholdSource supplies the thresholds to evaluate each cycle.
type ThresholdSource interface {
	ListEnabled(ctx context.Context) ([]model.Threshold, error)
}

// Monitor runs the periodic threshold scan. Cycles never overlap: if one
// runs past its interval the next tick is skipped, not queued.
type Monitor struct {
	samples    SampleSource
	thresholds ThresholdSource
	guard      *alerting.Guard
	interval   time.Duration
	staleness  time.Duration
	logger     *slog.Logger
	busy       atomic.Bool
}

func New(samples SampleSource, thresholds ThresholdSource, guard *alerting.Guard, interval, staleness time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		samples:    samples,
		thresholds: thresholds,
		guard:      guard,
		interval:   interval,
		staleness:  staleness,
		logger:     logger.With("component", "threshold_monitor"),
	}
}

// Run executes cycles until ctx is cancelled. An in-flight cycle finishes
// before Run returns.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("threshold monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("threshold monitor stopped")
			return
		case <-ticker.C:
			if !m.busy.CompareAndSwap(false, true) {
				monitorCyclesSkipped.Inc()
				m.logger.Warn("previous monitor cycle still running, skipping tick")
				continue
			}
			m.RunCycle(ctx, time.Now())
			m.busy.Store(false)
		}
	}
}

// RunCycle evaluates every enabled threshold against the latest sample.
func (m *Monitor) RunCycle(ctx context.Context, now time.Time) {
	thresholds, err := m.thresholds.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("fetching thresholds failed, skipping cycle", "error", err)
		return
	}

	for _, th := range thresholds {
		if err := m.evaluate(ctx, th, now); err != nil {
			// One failing metric must not halt the rest of the cycle.
			m.logger.Error("threshold evaluation failed",
				"asset", th.AssetID, "metric", th.MetricKey, "error", err)
		}
	}
	monitorCycles.Inc()
}

func (m *Monitor) evaluate(ctx context.Context, th model.Threshold, now time.Time) error {
	sample, err := m.samples.GetLatest(ctx, th.AssetID, th.MetricKey)
	if err != nil {
		return err
	}
	if sample == nil {
		return nil
	}
	if now.Sub(sample.Timestamp) > m.staleness {
		staleSamplesSkipped.Inc()
		m.logger.Debug("skipping stale sample",
			"asset", th.AssetID, "metric", th.MetricKey, "age", now.Sub(sample.Timestamp))
		return nil
	}
	if sample.Value >= th.Min && sample.Value <= th.Max {
		return nil
	}

	thresholdViolations.Inc()
	severity := classifyDeviation(th, sample.Value)
	message := fmt.Sprintf("%s on %s is %.2f%s, outside configured range [%.2f, %.2f]",
		th.MetricKey, th.AssetID, sample.Value, unitSuffix(th.MetricUnit), th.Min, th.Max)

	_, err = m.guard.RequestAlert(ctx, alerting.Request{
		AssetID:      th.AssetID,
		ConditionKey: th.MetricKey,
		Type:         model.AlertTypeThreshold,
		Severity:     severity,
		Message:      message,
	})
	return err
}

// classifyDeviation starts from the threshold's configured severity and
// escalates it as the value moves further outside the band: one step past a
// quarter of the band span, two steps past half. Monotonic in deviation.
func classifyDeviation(th model.Threshold, value float64) model.Severity {
	span := th.Max - th.Min
	if span <= 0 {
		span = 1
	}
	var deviation float64
	switch {
	case value > th.Max:
		deviation = value - th.Max
	case value < th.Min:
		deviation = th.Min - value
	}
	ratio := deviation / span
	switch {
	case ratio >= 0.5:
		return th.Severity.Escalate(2)
	case ratio >= 0.25:
		return th.Severity.Escalate(1)
	default:
		return th.Severity
	}
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}
