package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andriyanwar/meja-app/models"
)

func TestResolveSessionIdempotent(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)

	first, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionKey)

	// a second device scanning the same QR joins, never replaces
	second, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.SessionKey, second.SessionKey)

	var got models.Table
	require.NoError(t, db.First(&got, table.ID).Error)
	assert.Equal(t, models.TableStatusOccupied, got.Status)
	require.NotNil(t, got.CurrentSessionID)
	assert.Equal(t, first.ID, *got.CurrentSessionID)

	// the winner seeded an empty cart
	var cart models.Cart
	require.NoError(t, db.Where("session_id = ?", first.ID).First(&cart).Error)
	assert.Equal(t, "[]", cart.Items)
	assert.Equal(t, int64(0), cart.Version)
}

func TestResolveSessionConcurrent(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)

	const devices = 8
	keys := make([]string, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := resolver.ResolveSession(table.ID)
			if assert.NoError(t, err) {
				keys[i] = sess.SessionKey
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < devices; i++ {
		assert.Equal(t, keys[0], keys[i], "device %d got a different session", i)
	}

	// losing resolvers must not leave orphan session rows behind
	var count int64
	db.Model(&models.Session{}).Where("table_id = ?", table.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestActiveSessionDoesNotCreate(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)

	_, err := resolver.ActiveSession(table.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)

	got, err := resolver.ActiveSession(table.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestSessionByKey(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)

	sess, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)

	got, err := resolver.SessionByKey(sess.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = resolver.SessionByKey("no-such-key")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolveSessionUnknownTable(t *testing.T) {
	db, _ := newTestDB(t)
	resolver := NewSessionResolver(db)

	_, err := resolver.ResolveSession(9999)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestEndSessionReleasesTable(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)

	sess, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)

	require.NoError(t, resolver.EndSession(sess.ID))

	var got models.Table
	require.NoError(t, db.First(&got, table.ID).Error)
	assert.Nil(t, got.CurrentSessionID)
	assert.Equal(t, models.TableStatusDirty, got.Status)

	var ended models.Session
	require.NoError(t, db.First(&ended, sess.ID).Error)
	assert.False(t, ended.Active())

	// ending twice is a no-op
	require.NoError(t, resolver.EndSession(sess.ID))

	// the next scan starts a fresh session with a fresh key
	next, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, next.ID)
	assert.NotEqual(t, sess.SessionKey, next.SessionKey)
}

func TestResolveSessionClearsStalePointer(t *testing.T) {
	db, table := newTestDB(t)
	resolver := NewSessionResolver(db)

	// simulate a pointer left behind by a crash between the session end
	// and the pointer release
	now := time.Now()
	stale := models.Session{
		TableID:    table.ID,
		SessionKey: "stale-key",
		StartedAt:  now.Add(-time.Hour),
		EndedAt:    &now,
	}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Model(&models.Table{}).Where("id = ?", table.ID).
		Update("current_session_id", stale.ID).Error)

	sess, err := resolver.ResolveSession(table.ID)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, sess.ID)
	assert.True(t, sess.Active())
}
