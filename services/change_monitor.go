package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/realtime"
	"github.com/andriyanwar/meja-app/utils"
)

// ChangeMonitor drains the db_changes feed into the realtime hub. The
// feed catches every write, including ones that bypass the application
// (staff tooling hitting the database directly goes through triggers),
// so the hub carries the full authoritative change stream.
type ChangeMonitor struct {
	DB       *gorm.DB
	StopChan chan struct{}
	Interval time.Duration
}

func NewChangeMonitor(db *gorm.DB) *ChangeMonitor {
	return &ChangeMonitor{
		DB:       db,
		StopChan: make(chan struct{}),
		Interval: 1 * time.Second,
	}
}

func (cm *ChangeMonitor) Start() {
	go func() {
		ticker := time.NewTicker(cm.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cm.checkChanges()
			case <-cm.StopChan:
				return
			}
		}
	}()
}

func (cm *ChangeMonitor) Stop() {
	close(cm.StopChan)
}

func (cm *ChangeMonitor) checkChanges() {
	var changes []models.DBChange

	tx := cm.DB.Begin()
	if err := tx.Where("processed = ?", false).
		Order("changed_at ASC").
		Limit(100).
		Find(&changes).Error; err != nil {
		tx.Rollback()
		utils.ErrorLogger.Printf("Error fetching changes: %v", err)
		return
	}

	for _, change := range changes {
		switch change.TableName {
		case "carts":
			cm.processCartChange(change)
		case "orders":
			cm.processOrderChange(change)
		case "payments":
			cm.processPaymentChange(change)
		case "tables":
			cm.processTableChange(change)
		}

		if err := tx.Model(&models.DBChange{}).
			Where("id = ?", change.ID).
			Update("processed", true).Error; err != nil {
			tx.Rollback()
			utils.ErrorLogger.Printf("Error marking change as processed: %v", err)
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		utils.ErrorLogger.Printf("Error committing change batch: %v", err)
		tx.Rollback()
	}
}

func (cm *ChangeMonitor) processCartChange(change models.DBChange) {
	var cart models.Cart
	if err := cm.DB.First(&cart, change.RecordID).Error; err != nil {
		return
	}
	items, err := cart.DecodeItems()
	if err != nil {
		utils.ErrorLogger.Printf("Bad cart document for cart %d: %v", cart.ID, err)
		return
	}
	realtime.Publish(realtime.CartKey(cart.SessionID), realtime.Message{
		Event: realtime.EventCartUpdate,
		Data:  CartSnapshot{SessionID: cart.SessionID, Items: items, Version: cart.Version},
	})
}

func (cm *ChangeMonitor) processOrderChange(change models.DBChange) {
	if change.ActionType == "DELETE" {
		return
	}
	var order models.Order
	if err := cm.DB.Preload("OrderItems").First(&order, change.RecordID).Error; err != nil {
		return
	}
	msg := realtime.Message{Event: realtime.EventOrderUpdate, Data: order}
	realtime.Publish(realtime.OrderKey(order.ID), msg)
	realtime.Publish(realtime.SessionOrdersKey(order.SessionID), msg)
}

func (cm *ChangeMonitor) processPaymentChange(change models.DBChange) {
	var payment models.Payment
	if err := cm.DB.First(&payment, change.RecordID).Error; err != nil {
		return
	}
	realtime.Publish(realtime.OrderKey(payment.OrderID), realtime.Message{
		Event: realtime.EventPaymentUpdate,
		Data:  payment,
	})
}

func (cm *ChangeMonitor) processTableChange(change models.DBChange) {
	var table models.Table
	if err := cm.DB.First(&table, change.RecordID).Error; err != nil {
		return
	}
	realtime.Publish(realtime.TableKey(table.ID), realtime.Message{
		Event: realtime.EventTableUpdate,
		Data:  table,
	})
}
