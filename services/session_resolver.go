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

// SessionResolver turns a table scan into the single active session for
// that table. Any number of devices may resolve the same table
// concurrently; exactly one session record survives.
type SessionResolver struct {
	DB *gorm.DB
}

func NewSessionResolver(db *gorm.DB) *SessionResolver {
	return &SessionResolver{DB: db}
}

// ResolveSession returns the table's active session, creating one if none
// exists. The claim on tables.current_session_id is a single conditional
// update; a resolver that loses the race deletes its own session row and
// adopts whichever session the table ended up pointing at.
func (sr *SessionResolver) ResolveSession(tableID uint) (*models.Session, error) {
	// the retry covers one full claim cycle lost to a session that ended
	// between our read and our claim
	for attempt := 0; attempt < 3; attempt++ {
		sess, retry, err := sr.resolveOnce(tableID)
		if err != nil {
			return nil, err
		}
		if !retry {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: session claim kept conflicting", ErrUnavailable)
}

func (sr *SessionResolver) resolveOnce(tableID uint) (*models.Session, bool, error) {
	var table models.Table
	if err := sr.DB.First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrTableNotFound
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if table.CurrentSessionID != nil {
		var sess models.Session
		err := sr.DB.First(&sess, *table.CurrentSessionID).Error
		if err == nil && sess.Active() {
			return &sess, false, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// stale pointer: the session ended without the pointer being
		// cleared; release it conditionally and fall through to a new claim
		sr.DB.Model(&models.Table{}).
			Where("id = ? AND current_session_id = ?", tableID, *table.CurrentSessionID).
			Update("current_session_id", nil)
	}

	sess := models.Session{
		TableID:    tableID,
		SessionKey: uuid.New().String(),
		StartedAt:  time.Now(),
	}
	if err := sr.DB.Create(&sess).Error; err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	claim := sr.DB.Model(&models.Table{}).
		Where("id = ? AND current_session_id IS NULL", tableID).
		Updates(map[string]interface{}{
			"current_session_id": sess.ID,
			"status":             models.TableStatusOccupied,
		})
	if claim.Error != nil {
		sr.DB.Delete(&models.Session{}, sess.ID)
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, claim.Error)
	}

	if claim.RowsAffected == 0 {
		// lost the race: drop the orphan and adopt the recorded winner
		sr.DB.Delete(&models.Session{}, sess.ID)

		var winner models.Table
		if err := sr.DB.First(&winner, tableID).Error; err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if winner.CurrentSessionID == nil {
			return nil, true, nil
		}
		var adopted models.Session
		if err := sr.DB.First(&adopted, *winner.CurrentSessionID).Error; err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &adopted, false, nil
	}

	// the session starts with an empty cart so every device sees the same
	// document from the first read
	cart := models.Cart{SessionID: sess.ID, Items: "[]"}
	if err := sr.DB.Create(&cart).Error; err != nil {
		utils.ErrorLogger.Printf("Failed to seed cart for session %d: %v", sess.ID, err)
	}

	sr.publishTable(tableID)
	utils.InfoLogger.Printf("Session %d started at table %d", sess.ID, tableID)
	return &sess, false, nil
}

// ActiveSession returns the table's active session without creating one.
func (sr *SessionResolver) ActiveSession(tableID uint) (*models.Session, error) {
	var table models.Table
	if err := sr.DB.First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if table.CurrentSessionID == nil {
		return nil, ErrSessionNotFound
	}
	var sess models.Session
	if err := sr.DB.First(&sess, *table.CurrentSessionID).Error; err != nil {
		return nil, ErrSessionNotFound
	}
	if !sess.Active() {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// SessionByKey looks a session up by its opaque key, the identifier QR
// clients carry around instead of the numeric ID.
func (sr *SessionResolver) SessionByKey(key string) (*models.Session, error) {
	var sess models.Session
	if err := sr.DB.Where("session_key = ?", key).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &sess, nil
}

// EndSession closes a session, releases the table pointer and marks the
// table dirty for cleaning. Ending an already-ended session is a no-op.
func (sr *SessionResolver) EndSession(sessionID uint) error {
	var sess models.Session
	if err := sr.DB.First(&sess, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !sess.Active() {
		return nil
	}

	now := time.Now()
	if err := sr.DB.Model(&models.Session{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", now).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	sr.DB.Model(&models.Table{}).
		Where("id = ? AND current_session_id = ?", sess.TableID, sessionID).
		Updates(map[string]interface{}{
			"current_session_id": nil,
			"status":             models.TableStatusDirty,
		})

	sr.publishTable(sess.TableID)
	utils.InfoLogger.Printf("Session %d ended, table %d released", sessionID, sess.TableID)
	return nil
}

func (sr *SessionResolver) publishTable(tableID uint) {
	var table models.Table
	if err := sr.DB.First(&table, tableID).Error; err != nil {
		return
	}
	realtime.Publish(realtime.TableKey(tableID), realtime.Message{
		Event: realtime.EventTableUpdate,
		Data:  table,
	})
}
