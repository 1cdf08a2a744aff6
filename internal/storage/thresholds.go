package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

var ErrThresholdNotFound = fmt.Errorf("threshold not found")

// ThresholdStore holds operator-configured alert thresholds. The monitor only
// ever reads enabled rows; mutation happens through the config API.
type ThresholdStore struct {
	db *gorm.DB
}

func NewThresholdStore(db *gorm.DB) *ThresholdStore {
	return &ThresholdStore{db: db}
}

func (s *ThresholdStore) Create(ctx context.Context, t *model.Threshold) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("creating threshold %s/%s: %w", t.AssetID, t.MetricKey, err)
	}
	return nil
}

func (s *ThresholdStore) Update(ctx context.Context, t *model.Threshold) error {
	res := s.db.WithContext(ctx).Model(&model.Threshold{}).Where("id = ?", t.ID).
		Select("asset_name", "asset_type", "metric_unit", "min", "max", "severity", "enabled", "description").
		Updates(t)
	if res.Error != nil {
		return fmt.Errorf("updating threshold %d: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrThresholdNotFound
	}
	return nil
}

func (s *ThresholdStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Threshold{}, id)
	if res.Error != nil {
		return fmt.Errorf("deleting threshold %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrThresholdNotFound
	}
	return nil
}

func (s *ThresholdStore) Get(ctx context.Context, id uint) (*model.Threshold, error) {
	var t model.Threshold
	err := s.db.WithContext(ctx).First(&t, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrThresholdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading threshold %d: %w", id, err)
	}
	return &t, nil
}

// ListEnabled returns the thresholds the monitor evaluates each cycle.
func (s *ThresholdStore) ListEnabled(ctx context.Context) ([]model.Threshold, error) {
	var out []model.Threshold
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("asset_id, metric_key").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing enabled thresholds: %w", err)
	}
	return out, nil
}

// ListAll returns every configured threshold, enabled or not.
func (s *ThresholdStore) ListAll(ctx context.Context) ([]model.Threshold, error) {
	var out []model.Threshold
	err := s.db.WithContext(ctx).Order("asset_id, metric_key").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing thresholds: %w", err)
	}
	return out, nil
}
