package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

var (
	samplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_samples_ingested_total",
		Help: "Total number of metric samples written to the tiered store",
	})
	durableWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_durable_write_failures_total",
		Help: "Durable-tier sample writes that exhausted their retries",
	})
	durableQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_durable_queue_drops_total",
		Help: "Samples dropped because the durable write queue was full",
	})
)

const (
	durableQueueSize = 1024
	durableWorkers   = 2
	durableRetries   = 3
)

// TieredConfig carries the TTL and retention windows for the tiered store.
type TieredConfig struct {
	SampleTTL       time.Duration
	RawRetention    time.Duration
	HourlyRetention time.Duration
	DailyRetention  time.Duration
}

// TieredStore is the three-tier metric store facade. Writes land in the hot
// cache synchronously and are appended to the time-series tier by a small
// fixed worker pool, so a slow durable tier never blocks the ingest path the
// monitor's reads depend on.
type TieredStore struct {
	hot    HotCache
	ts     *TimeSeriesStore
	cfg    TieredConfig
	logger *slog.Logger

	queue    chan model.MetricSample
	wg       sync.WaitGroup
	lastHour atomic.Int64
	lastDay  atomic.Int64
}

func NewTieredStore(hot HotCache, ts *TimeSeriesStore, cfg TieredConfig, logger *slog.Logger) *TieredStore {
	return &TieredStore{
		hot:    hot,
		ts:     ts,
		cfg:    cfg,
		logger: logger.With("component", "tiered_store"),
		queue:  make(chan model.MetricSample, durableQueueSize),
	}
}

// Start launches the durable write workers. ctx cancellation stops retries of
// in-flight writes; Close drains the queue.
func (t *TieredStore) Start(ctx context.Context) {
	for i := 0; i < durableWorkers; i++ {
		t.wg.Add(1)
		go t.writeLoop(ctx)
	}
}

// Close stops accepting samples, drains queued writes and waits for the
// workers to finish.
func (t *TieredStore) Close() {
	close(t.queue)
	t.wg.Wait()
}

// PutSample writes the sample to the hot cache and queues the durable append.
// A hot-cache failure is logged and tolerated: the durable tier still gets
// the sample and GetLatest falls back to it.
func (t *TieredStore) PutSample(ctx context.Context, sample model.MetricSample) {
	if err := t.hot.PutSample(ctx, sample, t.cfg.SampleTTL); err != nil {
		t.logger.Warn("hot cache write failed",
			"asset", sample.AssetID, "metric", sample.MetricKey, "error", err)
	}
	samplesIngested.Inc()

	select {
	case t.queue <- sample:
	default:
		durableQueueDrops.Inc()
		t.logger.Error("durable write queue full, dropping sample",
			"asset", sample.AssetID, "metric", sample.MetricKey)
	}
}

// GetLatest reads the hot cache and falls back to the most recent raw point
// in the time-series tier. Returns nil when no data exists at all.
func (t *TieredStore) GetLatest(ctx context.Context, assetID, metricKey string) (*model.MetricSample, error) {
	sample, ok, err := t.hot.GetLatest(ctx, assetID, metricKey)
	if err != nil {
		t.logger.Warn("hot cache read failed, falling back to durable tier",
			"asset", assetID, "metric", metricKey, "error", err)
	}
	if ok {
		return &sample, nil
	}
	return t.ts.LatestRaw(ctx, assetID, metricKey)
}

// GetLatestMetric returns the newest raw sample for a metric regardless of
// asset. Used by the trend query path, which addresses metrics directly.
func (t *TieredStore) GetLatestMetric(ctx context.Context, metricKey string) (*model.MetricSample, error) {
	return t.ts.LatestRawByMetric(ctx, metricKey)
}

// GetHistorical answers ranged queries from rollups or raw samples depending
// on the requested resolution.
func (t *TieredStore) GetHistorical(ctx context.Context, metricKey string, window, resolution time.Duration) (*RollupCursor, error) {
	return t.ts.Historical(ctx, metricKey, window, resolution, time.Now())
}

// RetentionSweep materializes any closed rollup buckets and then deletes raw
// samples and rollups that aged out of their windows. Idempotent; safe to run
// concurrently with ingestion because it only deletes strictly below the
// bucket currently being aggregated.
func (t *TieredStore) RetentionSweep(ctx context.Context, now time.Time) {
	if n, err := t.ts.MaterializeHourly(ctx, now); err != nil {
		t.logger.Error("hourly rollup materialization failed", "error", err)
	} else if n > 0 {
		t.logger.Debug("materialized hourly rollups", "buckets", n)
	}
	if n, err := t.ts.MaterializeDaily(ctx, now); err != nil {
		t.logger.Error("daily rollup materialization failed", "error", err)
	} else if n > 0 {
		t.logger.Debug("materialized daily rollups", "buckets", n)
	}

	rawCutoff := now.Add(-t.cfg.RawRetention)
	// The open hourly bucket is still aggregating from raw; never reach into it.
	if open := now.Truncate(BucketHourly); rawCutoff.After(open) {
		rawCutoff = open
	}
	if n, err := t.ts.DeleteRawBefore(ctx, rawCutoff); err != nil {
		t.logger.Error("raw retention delete failed", "error", err)
	} else if n > 0 {
		t.logger.Info("retention removed raw samples", "count", n, "cutoff", rawCutoff)
	}

	hourlyCutoff := now.Add(-t.cfg.HourlyRetention)
	// Daily buckets aggregate from hourly; keep hourly rows for the open day.
	if open := now.Truncate(BucketDaily); hourlyCutoff.After(open) {
		hourlyCutoff = open
	}
	if n, err := t.ts.DeleteRollupsBefore(ctx, BucketHourly, hourlyCutoff); err != nil {
		t.logger.Error("hourly rollup retention delete failed", "error", err)
	} else if n > 0 {
		t.logger.Info("retention removed hourly rollups", "count", n, "cutoff", hourlyCutoff)
	}

	dailyCutoff := now.Add(-t.cfg.DailyRetention)
	if n, err := t.ts.DeleteRollupsBefore(ctx, BucketDaily, dailyCutoff); err != nil {
		t.logger.Error("daily rollup retention delete failed", "error", err)
	} else if n > 0 {
		t.logger.Info("retention removed daily rollups", "count", n, "cutoff", dailyCutoff)
	}
}

// Healthy reports per-tier connectivity for the health endpoint.
func (t *TieredStore) Healthy(ctx context.Context) (hotOK bool) {
	return t.hot.Healthy(ctx)
}

func (t *TieredStore) writeLoop(ctx context.Context) {
	defer t.wg.Done()
	for sample := range t.queue {
		t.appendWithRetry(ctx, sample)
		t.maybeMaterialize(ctx, sample.Timestamp)
	}
}

func (t *TieredStore) appendWithRetry(ctx context.Context, sample model.MetricSample) {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt < durableRetries; attempt++ {
		if err = t.ts.AppendSample(ctx, sample); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	durableWriteFailures.Inc()
	t.logger.Error("durable sample write failed after retries",
		"asset", sample.AssetID, "metric", sample.MetricKey, "error", err)
}

// maybeMaterialize kicks rollup materialization once per bucket close. CAS on
// the bucket markers keeps multiple workers from racing the same bucket.
func (t *TieredStore) maybeMaterialize(ctx context.Context, ts time.Time) {
	hour := ts.Truncate(BucketHourly).Unix()
	if last := t.lastHour.Load(); hour > last && t.lastHour.CompareAndSwap(last, hour) && last != 0 {
		if _, err := t.ts.MaterializeHourly(ctx, ts); err != nil {
			t.logger.Error("hourly rollup materialization failed", "error", err)
		}
	}
	day := ts.Truncate(BucketDaily).Unix()
	if last := t.lastDay.Load(); day > last && t.lastDay.CompareAndSwap(last, day) && last != 0 {
		if _, err := t.ts.MaterializeDaily(ctx, ts); err != nil {
			t.logger.Error("daily rollup materialization failed", "error", err)
		}
	}
}
