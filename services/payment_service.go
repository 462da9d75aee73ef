package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
	"github.com/andriyanwar/meja-app/utils"
)

// Payment attempt statuses
const (
	PaymentAttemptPending   = "pending"
	PaymentAttemptSuccess   = "success"
	PaymentAttemptFailed    = "failed"
	PaymentAttemptExpired   = "expired"
	PaymentAttemptCancelled = "cancelled"
)

// Payment methods
const (
	PaymentMethodCash    = "cash"
	PaymentMethodGateway = "gateway"
)

const paymentWindow = 15 * time.Minute

// PaymentService owns payment attempts and the paths by which an order's
// payment status flips to paid: the gateway callback and the staff cash
// confirmation. Both funnel through OrderService.MarkOrderPaid so the
// monotonic guarantee holds regardless of source.
type PaymentService struct {
	DB       *gorm.DB
	Orders   *OrderService
	StopChan chan struct{}
}

func NewPaymentService(db *gorm.DB) *PaymentService {
	return &PaymentService{
		DB:       db,
		Orders:   NewOrderService(db),
		StopChan: make(chan struct{}),
	}
}

// CreateGatewayPayment opens a gateway charge for an order and records a
// pending payment attempt with an expiry window.
func (s *PaymentService) CreateGatewayPayment(orderID uint) (*models.Payment, error) {
	order, err := s.Orders.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Paid() {
		return nil, ErrOrderAlreadyPaid
	}

	reference := fmt.Sprintf("ORDER-%d-%s", order.ID, uuid.New().String()[:8])
	charge, err := GetGatewayService().CreateCharge(reference, order.TotalAmount, *order)
	if err != nil {
		return nil, err
	}

	expiredAt := time.Now().Add(paymentWindow)
	payment := models.Payment{
		OrderID:     orderID,
		Amount:      order.TotalAmount,
		Status:      PaymentAttemptPending,
		Method:      PaymentMethodGateway,
		ReferenceID: reference,
		PaymentURL:  charge.RedirectURL,
		ExpiredAt:   &expiredAt,
	}
	if charge.QRString != "" {
		payment.Details = charge.QRString
	}
	if err := s.DB.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	realtime.Publish(realtime.OrderKey(orderID), realtime.Message{
		Event: realtime.EventPaymentPending,
		Data:  payment,
	})
	utils.InfoLogger.Printf("Gateway payment %d opened for order %d (%s)", payment.ID, orderID, reference)
	return &payment, nil
}

// HandleGatewayCallback processes the gateway's asynchronous notification.
// The signature must check out; the three-way outcome (settled, failed,
// user-cancelled) maps onto the payment attempt, and a settlement flips
// the order to paid.
func (s *PaymentService) HandleGatewayCallback(reference, status, statusCode, grossAmount, signature string) error {
	if !GetGatewayService().ValidSignature(reference, statusCode, grossAmount, signature) {
		return ErrBadSignature
	}

	var payment models.Payment
	if err := s.DB.Where("reference_id = ?", reference).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch status {
	case "settlement", "capture":
		return s.settle(&payment)
	case "deny", "failure":
		return s.close(&payment, PaymentAttemptFailed)
	case "cancel":
		return s.close(&payment, PaymentAttemptCancelled)
	case "expire":
		return s.close(&payment, PaymentAttemptExpired)
	default:
		// pending and other intermediate states change nothing
		return nil
	}
}

// ConfirmCash records a staff-verified cash payment and flips the order
// to paid through the same monotonic path as the gateway.
func (s *PaymentService) ConfirmCash(orderID uint, verifiedBy uint, cashReceived float64) (*models.Payment, error) {
	order, err := s.Orders.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Paid() {
		return nil, ErrOrderAlreadyPaid
	}

	now := time.Now()
	payment := models.Payment{
		OrderID:     orderID,
		Amount:      order.TotalAmount,
		Status:      PaymentAttemptSuccess,
		Method:      PaymentMethodCash,
		ReferenceID: "CSH-" + uuid.New().String(),
		PaymentTime: &now,
		VerifiedBy:  &verifiedBy,
	}
	if cashReceived > 0 {
		payment.Details = fmt.Sprintf("Cash received: %.2f, change: %.2f", cashReceived, cashReceived-order.TotalAmount)
	}
	if err := s.DB.Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	if err := s.Orders.MarkOrderPaid(orderID); err != nil {
		return nil, err
	}
	s.publishPayment(payment)
	utils.InfoLogger.Printf("Cash payment confirmed for order %d by user %d", orderID, verifiedBy)
	return &payment, nil
}

// RefreshGatewayStatus asks the gateway for an attempt's current state,
// covering callbacks that never arrived. A settlement found this way
// flips the order paid through the same monotonic path.
func (s *PaymentService) RefreshGatewayStatus(orderID uint) (*models.Payment, error) {
	payment, err := s.GetPaymentByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if payment.Method != PaymentMethodGateway || payment.Status != PaymentAttemptPending {
		return payment, nil
	}

	status, err := GetGatewayService().CheckStatus(payment.ReferenceID)
	if err != nil {
		return nil, err
	}

	switch status {
	case "settlement", "capture":
		if err := s.settle(payment); err != nil {
			return nil, err
		}
	case "deny", "failure":
		if err := s.close(payment, PaymentAttemptFailed); err != nil {
			return nil, err
		}
	case "cancel":
		if err := s.close(payment, PaymentAttemptCancelled); err != nil {
			return nil, err
		}
	case "expire":
		if err := s.close(payment, PaymentAttemptExpired); err != nil {
			return nil, err
		}
	}
	return payment, nil
}

// GetPaymentByOrderID returns the latest payment attempt for an order.
func (s *PaymentService) GetPaymentByOrderID(orderID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.DB.Where("order_id = ?", orderID).Order("created_at DESC").First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &payment, nil
}

func (s *PaymentService) settle(payment *models.Payment) error {
	now := time.Now()
	payment.Status = PaymentAttemptSuccess
	payment.PaymentTime = &now
	if err := s.DB.Save(payment).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := s.Orders.MarkOrderPaid(payment.OrderID); err != nil {
		return err
	}
	s.publishPayment(*payment)
	return nil
}

func (s *PaymentService) close(payment *models.Payment, status string) error {
	if payment.Status == PaymentAttemptSuccess {
		// a settled attempt never regresses
		return nil
	}
	payment.Status = status
	if err := s.DB.Save(payment).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.publishPayment(*payment)
	return nil
}

func (s *PaymentService) publishPayment(payment models.Payment) {
	realtime.Publish(realtime.OrderKey(payment.OrderID), realtime.Message{
		Event: realtime.EventPaymentUpdate,
		Data:  payment,
	})
}

// CheckExpiredPayments closes pending attempts whose window has passed.
func (s *PaymentService) CheckExpiredPayments() {
	var payments []models.Payment
	if err := s.DB.Where("status = ?", PaymentAttemptPending).Find(&payments).Error; err != nil {
		utils.ErrorLogger.Printf("Error checking expired payments: %v", err)
		return
	}

	now := time.Now()
	for i := range payments {
		payment := payments[i]
		if payment.ExpiredAt == nil || now.Before(*payment.ExpiredAt) {
			continue
		}
		if err := s.close(&payment, PaymentAttemptExpired); err != nil {
			utils.ErrorLogger.Printf("Error expiring payment %d: %v", payment.ID, err)
			continue
		}
		utils.InfoLogger.Printf("Payment %d expired (order %d)", payment.ID, payment.OrderID)
	}
}

// StartTimeoutChecker runs the expiry sweeper until Stop is called.
func (s *PaymentService) StartTimeoutChecker(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CheckExpiredPayments()
			case <-s.StopChan:
				return
			}
		}
	}()
	utils.InfoLogger.Println("Payment timeout checker started")
}

// Stop halts the expiry sweeper.
func (s *PaymentService) Stop() {
	close(s.StopChan)
}
