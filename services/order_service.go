package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
	"github.com/andriyanwar/meja-app/utils"
)

// OrderService creates orders from session carts and owns the one-way
// payment-status transition.
type OrderService struct {
	DB       *gorm.DB
	Carts    *CartStore
	Resolver *SessionResolver
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{
		DB:       db,
		Carts:    NewCartStore(db),
		Resolver: NewSessionResolver(db),
	}
}

// CreateOrder snapshots the session's cart into a new order and clears
// the cart, both inside one transaction. Other devices see an empty cart
// and the new pending order; the snapshot never changes afterwards.
func (svc *OrderService) CreateOrder(sessionID uint) (*models.Order, error) {
	var sess models.Session
	if err := svc.DB.First(&sess, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !sess.Active() {
		return nil, ErrSessionNotFound
	}

	var table models.Table
	if err := svc.DB.First(&table, sess.TableID).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	taxRate := 0.0
	var restaurant models.Restaurant
	if err := svc.DB.First(&restaurant, table.RestaurantID).Error; err == nil {
		taxRate = restaurant.TaxRate
	}

	var order models.Order
	var cartSnap CartSnapshot
	err := svc.DB.Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Where("session_id = ?", sessionID).First(&cart).Error; err != nil {
			return err
		}
		items, err := cart.DecodeItems()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		order = models.Order{
			SessionID:     sessionID,
			TableID:       table.ID,
			RestaurantID:  table.RestaurantID,
			Status:        models.OrderStatusPendingPayment,
			PaymentStatus: models.PaymentStatusPending,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		var subtotal float64
		for _, item := range items {
			subtotal += float64(item.Quantity) * item.UnitPrice
			orderItem := models.OrderItem{
				OrderID:   order.ID,
				MenuID:    item.MenuID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				Price:     item.UnitPrice,
				Notes:     item.Notes,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			if err := tx.Create(&orderItem).Error; err != nil {
				return err
			}
			order.OrderItems = append(order.OrderItems, orderItem)
		}

		order.Subtotal = round2(subtotal)
		order.Tax = round2(subtotal * taxRate)
		order.TotalAmount = round2(order.Subtotal + order.Tax)
		if err := tx.Save(&order).Error; err != nil {
			return err
		}

		cart.Items = "[]"
		cart.Version++
		if err := tx.Save(&cart).Error; err != nil {
			return err
		}
		cartSnap = CartSnapshot{SessionID: sessionID, Items: nil, Version: cart.Version}

		changes := []models.DBChange{
			{TableName: "orders", RecordID: int64(order.ID), ActionType: "INSERT", ChangedAt: time.Now()},
			{TableName: "carts", RecordID: int64(cart.ID), ActionType: "UPDATE", ChangedAt: time.Now()},
		}
		return tx.Create(&changes).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	realtime.Publish(realtime.CartKey(sessionID), realtime.Message{
		Event: realtime.EventCartUpdate,
		Data:  cartSnap,
	})
	svc.publishOrder(order)

	utils.InfoLogger.Printf("Order %d created from session %d (total %.2f)", order.ID, sessionID, order.TotalAmount)
	return &order, nil
}

// GetOrder returns an order with its item snapshot.
func (svc *OrderService) GetOrder(orderID uint) (*models.Order, error) {
	var order models.Order
	if err := svc.DB.Preload("OrderItems").First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &order, nil
}

// MarkOrderPaid flips the order's payment status to paid. The transition
// is monotonic: the guarded update only touches rows that are not yet
// paid, so redundant confirmations from any source are no-ops and the
// status can never regress. The session ends with the payment.
func (svc *OrderService) MarkOrderPaid(orderID uint) error {
	now := time.Now()
	res := svc.DB.Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, models.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusPaid,
			"status":         models.OrderStatusPaid,
			"paid_at":        now,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, res.Error)
	}
	if res.RowsAffected == 0 {
		var order models.Order
		if err := svc.DB.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// already paid: idempotent success
		return nil
	}

	svc.DB.Create(&models.DBChange{
		TableName: "orders", RecordID: int64(orderID), ActionType: "UPDATE", ChangedAt: now,
	})

	var order models.Order
	if err := svc.DB.Preload("OrderItems").First(&order, orderID).Error; err == nil {
		svc.publishOrder(order)
		if err := svc.Resolver.EndSession(order.SessionID); err != nil {
			utils.ErrorLogger.Printf("Failed to end session %d after payment: %v", order.SessionID, err)
		}
	}

	utils.InfoLogger.Printf("Order %d marked paid", orderID)
	return nil
}

// DeleteUnpaidOrder removes a pending order, used when a device backs out
// of checkout. Paid orders are immutable and refuse deletion.
func (svc *OrderService) DeleteUnpaidOrder(orderID uint) error {
	var order models.Order
	if err := svc.DB.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if order.Paid() {
		return ErrOrderAlreadyPaid
	}

	err := svc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Order{}, orderID).Error; err != nil {
			return err
		}
		return tx.Create(&models.DBChange{
			TableName: "orders", RecordID: int64(orderID), ActionType: "DELETE", ChangedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	realtime.Publish(realtime.SessionOrdersKey(order.SessionID), realtime.Message{
		Event: realtime.EventOrderDelete,
		Data:  order,
	})
	utils.InfoLogger.Printf("Unpaid order %d deleted (session %d)", orderID, order.SessionID)
	return nil
}

// workflow steps a staff update may take, in order
var workflowNext = map[string]string{
	models.OrderStatusPaid:       models.OrderStatusInProgress,
	models.OrderStatusInProgress: models.OrderStatusReady,
	models.OrderStatusReady:      models.OrderStatusServed,
	models.OrderStatusServed:     models.OrderStatusCompleted,
}

// AdvanceWorkflow moves a paid order one step along the kitchen workflow.
// The payment status is untouched; only the workflow status moves.
func (svc *OrderService) AdvanceWorkflow(orderID uint, target string) (*models.Order, error) {
	var order models.Order
	if err := svc.DB.First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if workflowNext[order.Status] != target {
		return nil, fmt.Errorf("order %d cannot move from %s to %s", orderID, order.Status, target)
	}

	order.Status = target
	order.UpdatedAt = time.Now()
	if err := svc.DB.Save(&order).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	svc.DB.Create(&models.DBChange{
		TableName: "orders", RecordID: int64(orderID), ActionType: "UPDATE", ChangedAt: time.Now(),
	})
	svc.publishOrder(order)
	return &order, nil
}

func (svc *OrderService) publishOrder(order models.Order) {
	msg := realtime.Message{Event: realtime.EventOrderUpdate, Data: order}
	realtime.Publish(realtime.OrderKey(order.ID), msg)
	realtime.Publish(realtime.SessionOrdersKey(order.SessionID), msg)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
