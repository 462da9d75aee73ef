package models

import "time"

// Table statuses
const (
	TableStatusAvailable = "available"
	TableStatusOccupied  = "occupied"
	TableStatusDirty     = "dirty"
)

// Table is a physical table. CurrentSessionID points at the single active
// session; it is only ever claimed with a conditional update so concurrent
// scans can never attach two sessions to one table.
type Table struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	RestaurantID     uint       `gorm:"index;not null" json:"restaurant_id"`
	Restaurant       Restaurant `gorm:"foreignKey:RestaurantID" json:"-"`
	TableNumber      string     `gorm:"type:varchar(50);not null" json:"table_number"`
	Status           string     `gorm:"type:varchar(50);not null;default:'available'" json:"status"`
	CurrentSessionID *uint      `gorm:"index" json:"current_session_id,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}
