package models

import "time"

// Payment represents one payment attempt against an order. An order can
// accumulate several failed or expired attempts; at most one succeeds.
type Payment struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	OrderID     uint       `json:"order_id" gorm:"index;not null"`
	Order       Order      `json:"order" gorm:"foreignKey:OrderID"`
	Amount      float64    `json:"amount" gorm:"type:decimal(10,2);not null"`
	Status      string     `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	Method      string     `json:"method" gorm:"type:varchar(20);not null;default:'gateway'"`
	ReferenceID string     `json:"reference_id" gorm:"type:varchar(100)"`
	PaymentURL  string     `json:"payment_url"` // redirect URL for gateway payments
	Details     string     `json:"details" gorm:"type:text"`
	PaymentTime *time.Time `json:"payment_time"`
	ExpiredAt   *time.Time `json:"expired_at"`
	VerifiedBy  *uint      `json:"verified_by"` // staff who confirmed a cash payment
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
