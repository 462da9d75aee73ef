package models

import "time"

// Session is one continuous dining engagement at a table. A session is
// active while EndedAt is null; the backend enforces at most one active
// session per table through the conditional claim on Table.CurrentSessionID.
type Session struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TableID    uint       `gorm:"index;not null" json:"table_id"`
	Table      Table      `gorm:"foreignKey:TableID" json:"-"`
	SessionKey string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_key"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	EndedAt    *time.Time `gorm:"index" json:"ended_at,omitempty"`
}

// Active reports whether the session has not been ended yet.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}
