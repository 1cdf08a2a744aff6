package storage

import (
	"database/sql"

	"gorm.io/gorm"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// RollupCursor iterates a historical query result lazily. It is finite,
// ordered by bucket start ascending, and cannot be restarted. Callers must
// Close it when done.
type RollupCursor struct {
	db   *gorm.DB
	rows *sql.Rows
	buf  []model.RollupRecord
	idx  int
	cur  model.RollupRecord
	err  error
}

func newRowCursor(db *gorm.DB, rows *sql.Rows) *RollupCursor {
	return &RollupCursor{db: db, rows: rows}
}

func newSliceCursor(records []model.RollupRecord) *RollupCursor {
	return &RollupCursor{buf: records}
}

// Next advances the cursor. It returns false at the end of the sequence or on
// error; check Err after the loop.
func (c *RollupCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if c.rows != nil {
		if !c.rows.Next() {
			c.err = c.rows.Err()
			return false
		}
		var rec model.RollupRecord
		if err := c.db.ScanRows(c.rows, &rec); err != nil {
			c.err = err
			return false
		}
		c.cur = rec
		return true
	}
	if c.idx >= len(c.buf) {
		return false
	}
	c.cur = c.buf[c.idx]
	c.idx++
	return true
}

// Record returns the record the last successful Next positioned on.
func (c *RollupCursor) Record() model.RollupRecord { return c.cur }

// Err returns the first error the iteration hit, if any.
func (c *RollupCursor) Err() error { return c.err }

// Close releases the underlying row set.
func (c *RollupCursor) Close() error {
	if c.rows != nil {
		return c.rows.Close()
	}
	return nil
}
