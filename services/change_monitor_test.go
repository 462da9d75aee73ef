package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
)

func TestChangeMonitorPublishesCartChanges(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)
	store := NewCartStore(db)
	sess := startSession(t, resolver, table.ID)

	// a write that bypassed the in-process publish, as a trigger-recorded
	// change from another backend instance would look
	var cart models.Cart
	require.NoError(t, db.Where("session_id = ?", sess.ID).First(&cart).Error)
	cart.Items = `[{"menu_id":1,"name":"Lontong","quantity":1,"unit_price":6}]`
	cart.Version = 7
	require.NoError(t, db.Save(&cart).Error)
	require.NoError(t, db.Create(&models.DBChange{
		TableName: "carts", RecordID: int64(cart.ID), ActionType: "UPDATE", ChangedAt: time.Now(),
	}).Error)

	ch := store.Subscribe(sess.ID)
	defer store.Unsubscribe(sess.ID, ch)

	monitor := NewChangeMonitor(db)
	monitor.checkChanges()

	select {
	case msg := <-ch:
		snap, ok := msg.Data.(CartSnapshot)
		require.True(t, ok)
		assert.Equal(t, int64(7), snap.Version)
		require.Len(t, snap.Items, 1)
		assert.Equal(t, "Lontong", snap.Items[0].Name)
	case <-time.After(time.Second):
		t.Fatal("monitor did not publish the cart change")
	}

	// the row is consumed exactly once
	var unprocessed int64
	db.Model(&models.DBChange{}).Where("processed = ?", false).Count(&unprocessed)
	assert.Equal(t, int64(0), unprocessed)
}

func TestChangeMonitorPublishesOrderChanges(t *testing.T) {
	db, table := newTestDB(t)
	orders := NewOrderService(db)
	sess := startSession(t, orders.Resolver, table.ID)

	_, err := orders.Carts.SetCart(sess.ID, []models.CartItem{
		{MenuID: 2, Name: "Opor", Quantity: 1, UnitPrice: 18},
	})
	require.NoError(t, err)
	order, err := orders.CreateOrder(sess.ID)
	require.NoError(t, err)

	// CreateOrder already queued change rows; drain them first
	monitor := NewChangeMonitor(db)
	monitor.checkChanges()

	ch := realtime.Subscribe(realtime.OrderKey(order.ID))
	defer realtime.Unsubscribe(realtime.OrderKey(order.ID), ch)

	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", models.PaymentStatusPaid).Error)
	require.NoError(t, db.Create(&models.DBChange{
		TableName: "orders", RecordID: int64(order.ID), ActionType: "UPDATE", ChangedAt: time.Now(),
	}).Error)

	monitor.checkChanges()

	select {
	case msg := <-ch:
		got, ok := msg.Data.(models.Order)
		require.True(t, ok)
		assert.Equal(t, order.ID, got.ID)
		assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	case <-time.After(time.Second):
		t.Fatal("monitor did not publish the order change")
	}
}
