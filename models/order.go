package models

import "time"

// Order workflow statuses
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusInProgress     = "in_progress"
	OrderStatusReady          = "ready"
	OrderStatusServed         = "served"
	OrderStatusCompleted      = "completed"
	OrderStatusCancelled      = "cancelled"
)

// Payment statuses on the order itself. PaymentStatusPaid is monotonic:
// once set it never reverts.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Order is the immutable record created from the cart at checkout. The item
// snapshot is copied from the cart, never referenced live; edits before
// payment happen by deleting the unpaid order and going back to the cart.
type Order struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	SessionID     uint        `gorm:"index;not null" json:"session_id"`
	Session       Session     `gorm:"foreignKey:SessionID" json:"-"`
	TableID       uint        `gorm:"index;not null" json:"table_id"`
	RestaurantID  uint        `gorm:"index;not null" json:"restaurant_id"`
	Status        string      `gorm:"type:varchar(20);not null;default:'pending_payment'" json:"status"`
	PaymentStatus string      `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	Subtotal      float64     `gorm:"type:decimal(10,2);not null;default:0.00" json:"subtotal"`
	Tax           float64     `gorm:"type:decimal(10,2);not null;default:0.00" json:"tax"`
	TotalAmount   float64     `gorm:"type:decimal(10,2);not null;default:0.00" json:"total_amount"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	CreatedAt     time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"not null" json:"updated_at"`
	OrderItems    []OrderItem `gorm:"foreignKey:OrderID" json:"order_items"`
}

// Paid reports whether the order has reached the absorbing paid state.
func (o *Order) Paid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}
