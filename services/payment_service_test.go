package services

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andriyanwar/meja-app/models"
)

func newPendingOrder(t *testing.T) (*PaymentService, *models.Order) {
	t.Helper()
	db, table := newTestDB(t)
	payments := NewPaymentService(db)
	sess := startSession(t, payments.Orders.Resolver, table.ID)

	_, err := payments.Orders.Carts.SetCart(sess.ID, []models.CartItem{
		{MenuID: 1, Name: "Nasi Uduk", Quantity: 2, UnitPrice: 12},
	})
	require.NoError(t, err)
	order, err := payments.Orders.CreateOrder(sess.ID)
	require.NoError(t, err)
	return payments, order
}

func TestConfirmCashFlipsOrderPaid(t *testing.T) {
	payments, order := newPendingOrder(t)

	payment, err := payments.ConfirmCash(order.ID, 42, 30)
	require.NoError(t, err)
	assert.Equal(t, PaymentAttemptSuccess, payment.Status)
	assert.Equal(t, PaymentMethodCash, payment.Method)
	require.NotNil(t, payment.VerifiedBy)
	assert.Equal(t, uint(42), *payment.VerifiedBy)

	got, err := payments.Orders.GetOrder(order.ID)
	require.NoError(t, err)
	assert.True(t, got.Paid())

	// a second confirmation is refused, the first one stands
	_, err = payments.ConfirmCash(order.ID, 42, 30)
	assert.ErrorIs(t, err, ErrOrderAlreadyPaid)
}

func TestHandleGatewayCallbackBadSignature(t *testing.T) {
	payments, _ := newPendingOrder(t)

	err := payments.HandleGatewayCallback("ORDER-1-abc", "settlement", "200", "24.00", "bogus")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHandleGatewayCallbackSettlement(t *testing.T) {
	payments, order := newPendingOrder(t)

	reference := "ORDER-TEST-1"
	expiredAt := time.Now().Add(paymentWindow)
	attempt := models.Payment{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Status:      PaymentAttemptPending,
		Method:      PaymentMethodGateway,
		ReferenceID: reference,
		ExpiredAt:   &expiredAt,
	}
	require.NoError(t, payments.DB.Create(&attempt).Error)

	serverKey := GetGatewayService().config.ServerKey
	sum := sha512.Sum512([]byte(reference + "200" + "24.00" + serverKey))
	signature := hex.EncodeToString(sum[:])

	require.NoError(t, payments.HandleGatewayCallback(reference, "settlement", "200", "24.00", signature))

	got, err := payments.GetPaymentByOrderID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentAttemptSuccess, got.Status)

	paid, err := payments.Orders.GetOrder(order.ID)
	require.NoError(t, err)
	assert.True(t, paid.Paid())

	// a late "expire" for the same attempt never un-settles it
	require.NoError(t, payments.HandleGatewayCallback(reference, "expire", "200", "24.00", signature))
	got, err = payments.GetPaymentByOrderID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentAttemptSuccess, got.Status)
}

func TestCheckExpiredPayments(t *testing.T) {
	payments, order := newPendingOrder(t)

	past := time.Now().Add(-time.Minute)
	attempt := models.Payment{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Status:      PaymentAttemptPending,
		Method:      PaymentMethodGateway,
		ReferenceID: "ORDER-TEST-2",
		ExpiredAt:   &past,
	}
	require.NoError(t, payments.DB.Create(&attempt).Error)

	payments.CheckExpiredPayments()

	var got models.Payment
	require.NoError(t, payments.DB.First(&got, attempt.ID).Error)
	assert.Equal(t, PaymentAttemptExpired, got.Status)

	// the order itself stays pending; expiry closes the attempt only
	pending, err := payments.Orders.GetOrder(order.ID)
	require.NoError(t, err)
	assert.False(t, pending.Paid())
}
