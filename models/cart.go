package models

import (
	"encoding/json"
	"time"
)

// CartItem is one line of the shared cart. Carts are replaced wholesale,
// so items carry no identity of their own beyond the menu reference.
type CartItem struct {
	MenuID    uint    `json:"menu_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Notes     string  `json:"notes,omitempty"`
}

// Cart is the single order-in-progress document for a session. There is
// exactly one cart per session and no per-device partition; every write
// replaces the whole item list (last write wins) and bumps Version.
type Cart struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"uniqueIndex;not null" json:"session_id"`
	Session   Session   `gorm:"foreignKey:SessionID" json:"-"`
	Items     string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// DecodeItems unmarshals the stored item document.
func (c *Cart) DecodeItems() ([]CartItem, error) {
	if c.Items == "" {
		return nil, nil
	}
	var items []CartItem
	if err := json.Unmarshal([]byte(c.Items), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeItems marshals an item list into the stored document form. A nil
// list encodes as an empty document, not JSON null.
func EncodeItems(items []CartItem) (string, error) {
	if items == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
