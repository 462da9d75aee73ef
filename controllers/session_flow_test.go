package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) (*gorm.DB, models.Table) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Restaurant{}, &models.User{}, &models.Table{},
		&models.Session{}, &models.Cart{},
		&models.MenuCategory{}, &models.Menu{},
		&models.Order{}, &models.OrderItem{}, &models.Payment{},
		&models.DBChange{},
	))

	restaurant := models.Restaurant{Name: "Test Kitchen"}
	require.NoError(t, db.Create(&restaurant).Error)
	table := models.Table{RestaurantID: restaurant.ID, TableNumber: "T1", Status: models.TableStatusAvailable}
	require.NoError(t, db.Create(&table).Error)
	return db, table
}

func setupSessionRouter(db *gorm.DB) *gin.Engine {
	r := gin.New()
	tableCtrl := NewTableController(db)
	cartCtrl := NewCartController(db)
	orderCtrl := NewOrderController(db)

	r.GET("/tables/:table_id/scan", tableCtrl.ScanTable)
	r.GET("/sessions/:session_key/cart", cartCtrl.GetCart)
	r.PUT("/sessions/:session_key/cart", cartCtrl.PutCart)
	r.POST("/sessions/:session_key/orders", orderCtrl.CreateOrder)
	r.GET("/orders/:order_id", orderCtrl.GetOrder)
	r.DELETE("/orders/:order_id", orderCtrl.DeleteOrder)
	return r
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func scan(t *testing.T, r *gin.Engine, tableID uint) string {
	t.Helper()
	w, env := doRequest(t, r, http.MethodGet, fmt.Sprintf("/tables/%d/scan", tableID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		SessionKey string `json:"session_key"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.SessionKey)
	return data.SessionKey
}

func TestScanTwiceJoinsSameSession(t *testing.T) {
	db, table := setupTestDB(t)
	r := setupSessionRouter(db)

	keyA := scan(t, r, table.ID)
	keyB := scan(t, r, table.ID)
	assert.Equal(t, keyA, keyB)
}

func TestScanUnknownTable(t *testing.T) {
	db, _ := setupTestDB(t)
	r := setupSessionRouter(db)

	w, _ := doRequest(t, r, http.MethodGet, "/tables/9999/scan", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartRoundTripBetweenDevices(t *testing.T) {
	db, table := setupTestDB(t)
	r := setupSessionRouter(db)
	key := scan(t, r, table.ID)

	// device A writes
	body := map[string]interface{}{
		"items": []models.CartItem{
			{MenuID: 1, Name: "Nasi Goreng", Quantity: 2, UnitPrice: 10},
		},
	}
	w, env := doRequest(t, r, http.MethodPut, "/sessions/"+key+"/cart", body)
	require.Equal(t, http.StatusOK, w.Code)

	var snap struct {
		Items   []models.CartItem `json:"items"`
		Version int64             `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, int64(1), snap.Version)

	// device B reads the same document
	w, env = doRequest(t, r, http.MethodGet, "/sessions/"+key+"/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Nasi Goreng", snap.Items[0].Name)

	// device B overwrites wholesale
	body = map[string]interface{}{
		"items": []models.CartItem{
			{MenuID: 2, Name: "Mie Ayam", Quantity: 1, UnitPrice: 12},
		},
	}
	w, env = doRequest(t, r, http.MethodPut, "/sessions/"+key+"/cart", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, int64(2), snap.Version)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Mie Ayam", snap.Items[0].Name)
}

func TestCartUnknownSessionKey(t *testing.T) {
	db, _ := setupTestDB(t)
	r := setupSessionRouter(db)

	w, _ := doRequest(t, r, http.MethodGet, "/sessions/bogus-key/cart", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartMissingRowIsNotFound(t *testing.T) {
	db, table := setupTestDB(t)
	r := setupSessionRouter(db)
	key := scan(t, r, table.ID)

	var session models.Session
	require.NoError(t, db.Where("session_key = ?", key).First(&session).Error)
	require.NoError(t, db.Where("session_id = ?", session.ID).Delete(&models.Cart{}).Error)

	// a valid session whose cart row is gone reads as not-found, not as
	// a server failure
	w, _ := doRequest(t, r, http.MethodGet, "/sessions/"+key+"/cart", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateOrderFromSession(t *testing.T) {
	db, table := setupTestDB(t)
	r := setupSessionRouter(db)
	key := scan(t, r, table.ID)

	// empty cart is refused
	w, _ := doRequest(t, r, http.MethodPost, "/sessions/"+key+"/orders", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := map[string]interface{}{
		"items": []models.CartItem{
			{MenuID: 1, Name: "Rendang", Quantity: 3, UnitPrice: 10},
			{MenuID: 2, Name: "Soto", Quantity: 5, UnitPrice: 10},
		},
	}
	w, _ = doRequest(t, r, http.MethodPut, "/sessions/"+key+"/cart", body)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := doRequest(t, r, http.MethodPost, "/sessions/"+key+"/orders", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, 80.0, order.TotalAmount)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	// the shared cart is now empty for everyone
	w, env = doRequest(t, r, http.MethodGet, "/sessions/"+key+"/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		Items   []models.CartItem `json:"items"`
		Version int64             `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Empty(t, snap.Items)
}

func TestDeleteUnpaidOrderOverHTTP(t *testing.T) {
	db, table := setupTestDB(t)
	r := setupSessionRouter(db)
	key := scan(t, r, table.ID)

	body := map[string]interface{}{
		"items": []models.CartItem{{MenuID: 1, Name: "Tempe", Quantity: 1, UnitPrice: 3}},
	}
	w, _ := doRequest(t, r, http.MethodPut, "/sessions/"+key+"/cart", body)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := doRequest(t, r, http.MethodPost, "/sessions/"+key+"/orders", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))

	w, _ = doRequest(t, r, http.MethodDelete, fmt.Sprintf("/orders/%d", order.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doRequest(t, r, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
