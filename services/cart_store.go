package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
)

// CartSnapshot is the authoritative cart state handed to devices. Version
// increases on every successful replace and is what subscribers use to
// tell a new state from a re-delivery.
type CartSnapshot struct {
	SessionID uint              `json:"session_id"`
	Items     []models.CartItem `json:"items"`
	Version   int64             `json:"version"`
}

// CartStore holds each session's cart as a single versioned document.
// Writes replace the whole item list: last write wins, no merging. The
// policy lives entirely in this type so it can be swapped without
// touching the lifecycle controller.
type CartStore struct {
	DB *gorm.DB
}

func NewCartStore(db *gorm.DB) *CartStore {
	return &CartStore{DB: db}
}

// GetCart returns the current authoritative cart for a session.
func (cs *CartStore) GetCart(sessionID uint) (CartSnapshot, error) {
	var cart models.Cart
	if err := cs.DB.Where("session_id = ?", sessionID).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CartSnapshot{}, ErrSessionNotFound
		}
		return CartSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	items, err := cart.DecodeItems()
	if err != nil {
		return CartSnapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return CartSnapshot{SessionID: sessionID, Items: items, Version: cart.Version}, nil
}

// SetCart replaces the session's cart with the supplied complete item
// list and notifies subscribers. Callers supply the full desired list,
// never a delta.
func (cs *CartStore) SetCart(sessionID uint, items []models.CartItem) (CartSnapshot, error) {
	doc, err := models.EncodeItems(items)
	if err != nil {
		return CartSnapshot{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	var snap CartSnapshot
	err = cs.DB.Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Where("session_id = ?", sessionID).First(&cart).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			cart = models.Cart{SessionID: sessionID, Items: "[]"}
			if err := tx.Create(&cart).Error; err != nil {
				return err
			}
		}

		cart.Items = doc
		cart.Version++
		if err := tx.Save(&cart).Error; err != nil {
			return err
		}

		change := models.DBChange{
			TableName:  "carts",
			RecordID:   int64(cart.ID),
			ActionType: "UPDATE",
			ChangedAt:  time.Now(),
		}
		if err := tx.Create(&change).Error; err != nil {
			return err
		}

		snap = CartSnapshot{SessionID: sessionID, Items: items, Version: cart.Version}
		return nil
	})
	if err != nil {
		return CartSnapshot{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	realtime.Publish(realtime.CartKey(sessionID), realtime.Message{
		Event: realtime.EventCartUpdate,
		Data:  snap,
	})
	return snap, nil
}

// ClearCart empties the session's cart, used when an order is created
// from it.
func (cs *CartStore) ClearCart(sessionID uint) (CartSnapshot, error) {
	return cs.SetCart(sessionID, nil)
}

// Subscribe returns a channel of cart change notifications for a session.
// The store does not suppress a device's own writes; self-echo handling
// sits in the device controller.
func (cs *CartStore) Subscribe(sessionID uint) chan realtime.Message {
	return realtime.Subscribe(realtime.CartKey(sessionID))
}

// Unsubscribe releases a channel obtained from Subscribe.
func (cs *CartStore) Unsubscribe(sessionID uint, ch chan realtime.Message) {
	realtime.Unsubscribe(realtime.CartKey(sessionID), ch)
}
