package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// ErrAlertNotFound is returned by lookups and lifecycle transitions when no
// alert carries the requested id.
var ErrAlertNotFound = fmt.Errorf("alert not found")

// AlertStore is the durable, append-mostly log of alert records. It is the
// single source of truth for "is there an open alert for this condition":
// the deduplication guard bases its decision on committed rows here only.
type AlertStore struct {
	db *gorm.DB
}

func NewAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{db: db}
}

// AlertQuery filters the alert listing. Zero values mean "no filter".
type AlertQuery struct {
	From       time.Time
	To         time.Time
	Severities []model.Severity
	Resolved   *bool
	AssetID    string
	Limit      int
	Offset     int
}

// Create persists a new open, unacknowledged alert and assigns its id. The
// write is committed before Create returns.
func (s *AlertStore) Create(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("creating alert for %s/%s: %w", alert.AssetID, alert.ConditionKey, err)
	}
	return nil
}

// FindOpenByCondition returns the open alert for the (asset, condition) pair
// regardless of which producer created it, or nil when none is open.
func (s *AlertStore) FindOpenByCondition(ctx context.Context, assetID, conditionKey string) (*model.Alert, error) {
	var alert model.Alert
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND condition_key = ? AND resolved = ?", assetID, conditionKey, false).
		Order("timestamp DESC").
		First(&alert).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking open alert for %s/%s: %w", assetID, conditionKey, err)
	}
	return &alert, nil
}

// Get returns one alert by id.
func (s *AlertStore) Get(ctx context.Context, id string) (*model.Alert, error) {
	var alert model.Alert
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading alert %s: %w", id, err)
	}
	return &alert, nil
}

// Acknowledge marks the alert acknowledged. Idempotent.
func (s *AlertStore) Acknowledge(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ?", id).
		Update("acknowledged", true)
	if res.Error != nil {
		return fmt.Errorf("acknowledging alert %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Resolve closes the alert, recording when. Idempotent: resolving an already
// resolved alert keeps its original resolved_at.
func (s *AlertStore) Resolve(ctx context.Context, id string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": now})
	if res.Error != nil {
		return fmt.Errorf("resolving alert %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// Either missing or already resolved; only the former is an error.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// List returns alerts matching the query ordered by timestamp descending,
// plus the total match count for pagination.
func (s *AlertStore) List(ctx context.Context, q AlertQuery) ([]model.Alert, int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.Alert{})
	if !q.From.IsZero() {
		tx = tx.Where("timestamp >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("timestamp <= ?", q.To)
	}
	if len(q.Severities) > 0 {
		tx = tx.Where("severity IN ?", q.Severities)
	}
	if q.Resolved != nil {
		tx = tx.Where("resolved = ?", *q.Resolved)
	}
	if q.AssetID != "" {
		tx = tx.Where("asset_id = ?", q.AssetID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting alerts: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var alerts []model.Alert
	err := tx.Order("timestamp DESC").Limit(limit).Offset(q.Offset).Find(&alerts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing alerts: %w", err)
	}
	return alerts, total, nil
}

// CountOpen returns the number of unresolved alerts.
func (s *AlertStore) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Alert{}).Where("resolved = ?", false).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting open alerts: %w", err)
	}
	return n, nil
}

// DeleteResolvedBefore removes resolved alerts older than cutoff. Open alerts
// are kept regardless of age.
func (s *AlertStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("resolved = ? AND timestamp < ?", true, cutoff).
		Delete(&model.Alert{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting resolved alerts before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}
