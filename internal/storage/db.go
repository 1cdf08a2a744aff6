// Package storage implements the tiered metric store: a short-TTL hot cache
// for the latest sample per asset metric, a time-series tier with hourly and
// daily rollups under retention policies, and a durable relational tier for
// alerts and threshold configuration.
package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// Open opens the relational database and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&model.MetricSample{},
		&model.RollupRecord{},
		&model.Alert{},
		&model.Threshold{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}
