package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// Rollup bucket widths natively materialized by the time-series tier.
const (
	BucketHourly = time.Hour
	BucketDaily  = 24 * time.Hour
)

// TimeSeriesStore persists raw samples and materializes hourly and daily
// rollups from them. Raw samples expire before rollups do, so historical
// queries past the raw window are answered from rollups only.
type TimeSeriesStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewTimeSeriesStore(db *gorm.DB, logger *slog.Logger) *TimeSeriesStore {
	return &TimeSeriesStore{db: db, logger: logger.With("component", "timeseries")}
}

// AppendSample durably appends one raw sample.
func (s *TimeSeriesStore) AppendSample(ctx context.Context, sample model.MetricSample) error {
	if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return fmt.Errorf("appending sample %s/%s: %w", sample.AssetID, sample.MetricKey, err)
	}
	return nil
}

// LatestRaw returns the most recent raw sample for the asset metric, or nil
// when no data exists.
func (s *TimeSeriesStore) LatestRaw(ctx context.Context, assetID, metricKey string) (*model.MetricSample, error) {
	var sample model.MetricSample
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND metric_key = ?", assetID, metricKey).
		Order("timestamp DESC").
		First(&sample).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest sample %s/%s: %w", assetID, metricKey, err)
	}
	return &sample, nil
}

// LatestRawByMetric returns the most recent raw sample for the metric across
// all assets, or nil when no data exists. Serves metric-level dashboard
// reads where the asset is not part of the query.
func (s *TimeSeriesStore) LatestRawByMetric(ctx context.Context, metricKey string) (*model.MetricSample, error) {
	var sample model.MetricSample
	err := s.db.WithContext(ctx).
		Where("metric_key = ?", metricKey).
		Order("timestamp DESC").
		First(&sample).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest sample for %s: %w", metricKey, err)
	}
	return &sample, nil
}

// MaterializeHourly aggregates raw samples into hourly rollups for every
// bucket closed before now. The most recent closed bucket is re-aggregated on
// each call so late samples still land; the upsert makes that idempotent.
func (s *TimeSeriesStore) MaterializeHourly(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Truncate(BucketHourly)
	from := s.watermark(ctx, BucketHourly)
	if from.After(cutoff) || from.Equal(cutoff) {
		return 0, nil
	}

	var samples []model.MetricSample
	err := s.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", from, cutoff).
		Order("metric_key, timestamp").
		Find(&samples).Error
	if err != nil {
		return 0, fmt.Errorf("loading samples for hourly rollup: %w", err)
	}

	rollups := aggregateSamples(samples, BucketHourly)
	if err := s.upsertRollups(ctx, rollups); err != nil {
		return 0, err
	}
	return len(rollups), nil
}

// MaterializeDaily aggregates hourly rollups into daily rollups for every day
// closed before now.
func (s *TimeSeriesStore) MaterializeDaily(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Truncate(BucketDaily)
	from := s.watermark(ctx, BucketDaily)
	if from.After(cutoff) || from.Equal(cutoff) {
		return 0, nil
	}

	var hourly []model.RollupRecord
	err := s.db.WithContext(ctx).
		Where("bucket_width = ? AND bucket_start >= ? AND bucket_start < ?", BucketHourly, from, cutoff).
		Order("metric_key, bucket_start").
		Find(&hourly).Error
	if err != nil {
		return 0, fmt.Errorf("loading hourly rollups for daily rollup: %w", err)
	}

	rollups := aggregateRollups(hourly, BucketDaily)
	if err := s.upsertRollups(ctx, rollups); err != nil {
		return 0, err
	}
	return len(rollups), nil
}

// watermark returns the start of the most recent materialized bucket for the
// width, so that bucket gets re-aggregated on the next pass, or the zero time
// when nothing has been materialized yet.
func (s *TimeSeriesStore) watermark(ctx context.Context, width time.Duration) time.Time {
	var last model.RollupRecord
	err := s.db.WithContext(ctx).
		Where("bucket_width = ?", width).
		Order("bucket_start DESC").
		First(&last).Error
	if err != nil {
		return time.Time{}
	}
	return last.BucketStart
}

func (s *TimeSeriesStore) upsertRollups(ctx context.Context, rollups []model.RollupRecord) error {
	for i := range rollups {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "metric_key"}, {Name: "bucket_width"}, {Name: "bucket_start"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"avg", "min", "max", "count"}),
		}).Create(&rollups[i]).Error
		if err != nil {
			return fmt.Errorf("upserting rollup %s@%s: %w", rollups[i].MetricKey, rollups[i].BucketStart, err)
		}
	}
	return nil
}

// Historical returns a lazy, finite, non-restartable sequence of rollup
// records for the metric over the window, ordered by bucket start ascending.
// Resolutions at or above a native rollup width read that rollup; finer
// resolutions are aggregated from raw samples.
func (s *TimeSeriesStore) Historical(ctx context.Context, metricKey string, window, resolution time.Duration, now time.Time) (*RollupCursor, error) {
	from := now.Add(-window)

	var width time.Duration
	switch {
	case resolution >= BucketDaily:
		width = BucketDaily
	case resolution >= BucketHourly:
		width = BucketHourly
	default:
		return s.historicalFromRaw(ctx, metricKey, from, resolution)
	}

	rows, err := s.db.WithContext(ctx).
		Model(&model.RollupRecord{}).
		Where("metric_key = ? AND bucket_width = ? AND bucket_start >= ?", metricKey, width, from).
		Order("bucket_start ASC").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("querying %s rollups for %s: %w", width, metricKey, err)
	}
	return newRowCursor(s.db, rows), nil
}

func (s *TimeSeriesStore) historicalFromRaw(ctx context.Context, metricKey string, from time.Time, resolution time.Duration) (*RollupCursor, error) {
	var samples []model.MetricSample
	err := s.db.WithContext(ctx).
		Where("metric_key = ? AND timestamp >= ?", metricKey, from).
		Order("timestamp ASC").
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("querying raw samples for %s: %w", metricKey, err)
	}
	return newSliceCursor(aggregateSamples(samples, resolution)), nil
}

// DeleteRawBefore removes raw samples older than cutoff.
func (s *TimeSeriesStore) DeleteRawBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&model.MetricSample{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting raw samples before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteRollupsBefore removes rollups of the width whose bucket starts before
// cutoff.
func (s *TimeSeriesStore) DeleteRollupsBefore(ctx context.Context, width time.Duration, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("bucket_width = ? AND bucket_start < ?", width, cutoff).
		Delete(&model.RollupRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting %s rollups before %s: %w", width, cutoff, res.Error)
	}
	return res.RowsAffected, nil
}

func aggregateSamples(samples []model.MetricSample, width time.Duration) []model.RollupRecord {
	type bucketKey struct {
		metric string
		start  time.Time
	}
	buckets := make(map[bucketKey]*model.RollupRecord)
	order := make([]bucketKey, 0)

	for _, sample := range samples {
		key := bucketKey{metric: sample.MetricKey, start: sample.Timestamp.Truncate(width)}
		r, ok := buckets[key]
		if !ok {
			r = &model.RollupRecord{
				MetricKey:   sample.MetricKey,
				BucketWidth: width,
				BucketStart: key.start,
				Min:         sample.Value,
				Max:         sample.Value,
			}
			buckets[key] = r
			order = append(order, key)
		}
		if sample.Value < r.Min {
			r.Min = sample.Value
		}
		if sample.Value > r.Max {
			r.Max = sample.Value
		}
		// Avg carries the running sum until the final pass below.
		r.Avg += sample.Value
		r.Count++
	}

	out := make([]model.RollupRecord, 0, len(order))
	for _, key := range order {
		r := buckets[key]
		r.Avg /= float64(r.Count)
		out = append(out, *r)
	}
	return out
}

func aggregateRollups(rollups []model.RollupRecord, width time.Duration) []model.RollupRecord {
	type bucketKey struct {
		metric string
		start  time.Time
	}
	buckets := make(map[bucketKey]*model.RollupRecord)
	order := make([]bucketKey, 0)

	for _, in := range rollups {
		key := bucketKey{metric: in.MetricKey, start: in.BucketStart.Truncate(width)}
		r, ok := buckets[key]
		if !ok {
			r = &model.RollupRecord{
				MetricKey:   in.MetricKey,
				BucketWidth: width,
				BucketStart: key.start,
				Min:         in.Min,
				Max:         in.Max,
			}
			buckets[key] = r
			order = append(order, key)
		}
		if in.Min < r.Min {
			r.Min = in.Min
		}
		if in.Max > r.Max {
			r.Max = in.Max
		}
		r.Avg += in.Avg * float64(in.Count)
		r.Count += in.Count
	}

	out := make([]model.RollupRecord, 0, len(order))
	for _, key := range order {
		r := buckets[key]
		if r.Count > 0 {
			r.Avg /= float64(r.Count)
		}
		out = append(out, *r)
	}
	return out
}
