package models

import "time"

// DBChange is one row of the change feed. Rows are written by the
// application on its own mutations and by database triggers for writes
// that bypass it (staff tools); the change monitor drains them into the
// realtime hub.
type DBChange struct {
	ID         uint      `gorm:"primaryKey"`
	TableName  string    `gorm:"type:varchar(50);not null;index:idx_table_action"`
	RecordID   int64     `gorm:"not null"`
	ActionType string    `gorm:"type:varchar(10);not null;index:idx_table_action"`
	ChangedAt  time.Time `gorm:"not null;index"`
	Processed  bool      `gorm:"default:false;index:idx_processed"`
}
