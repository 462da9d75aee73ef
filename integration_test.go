package main

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
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/router"
	"github.com/andriyanwar/meja-app/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// TestTableSessionEndToEnd runs the full shared-table flow over the
// real router:
// 1. two devices scan the same QR and land in one session
// 2. edits from either device converge on one cart document
// 3. one device checks out, the cart empties for both
// 4. staff settles the bill in cash, the order flips paid exactly once
// 5. the session ends and the next scan starts fresh
func TestTableSessionEndToEnd(t *testing.T) {
	db := setupIntegrationDB(t)
	r := router.SetupRouter(db)
	token := loginStaff(t, r)

	var table models.Table
	require.NoError(t, db.First(&table).Error)

	// 1. both devices resolve to the same session key
	keyA := scanTable(t, r, table.ID)
	keyB := scanTable(t, r, table.ID)
	require.Equal(t, keyA, keyB)

	// 2. device A adds, device B sees it, then B overwrites the document
	putCart(t, r, keyA, []models.CartItem{
		{MenuID: 1, Name: "Rendang", Quantity: 1, UnitPrice: 10},
	})
	snap := getCart(t, r, keyB)
	require.Len(t, snap.Items, 1)

	putCart(t, r, keyB, []models.CartItem{
		{MenuID: 1, Name: "Rendang", Quantity: 3, UnitPrice: 10},
		{MenuID: 2, Name: "Soto", Quantity: 5, UnitPrice: 10},
	})
	snap = getCart(t, r, keyA)
	require.Len(t, snap.Items, 2)
	require.Equal(t, int64(2), snap.Version)

	// 3. device A checks out; the snapshot totals the final document
	w, env := request(t, r, http.MethodPost, "/sessions/"+keyA+"/orders", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, 80.0, order.TotalAmount)

	snap = getCart(t, r, keyB)
	assert.Empty(t, snap.Items)

	// 4. staff confirms cash; device B polls the order and sees paid
	w, _ = request(t, r, http.MethodPost,
		fmt.Sprintf("/admin/orders/%d/confirm-cash", order.ID),
		map[string]interface{}{"cash_received": 100.0}, token)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = request(t, r, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var paid models.Order
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)

	// settling twice is refused, the order stays paid
	w, _ = request(t, r, http.MethodPost,
		fmt.Sprintf("/admin/orders/%d/confirm-cash", order.ID),
		map[string]interface{}{"cash_received": 100.0}, token)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 5. the session is over: stale keys are rejected, a new scan opens
	// a fresh session with an empty cart
	w, _ = request(t, r, http.MethodPut, "/sessions/"+keyA+"/cart",
		map[string]interface{}{"items": []models.CartItem{}}, "")
	assert.Equal(t, http.StatusGone, w.Code)

	keyNext := scanTable(t, r, table.ID)
	assert.NotEqual(t, keyA, keyNext)
	snap = getCart(t, r, keyNext)
	assert.Empty(t, snap.Items)
	assert.Equal(t, int64(0), snap.Version)
}

func setupIntegrationDB(t *testing.T) *gorm.DB {
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

	hashed, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.User{
		Name: "Staff", Email: "staff@test.local", Password: string(hashed), Role: "staff",
	}).Error)

	restaurant := models.Restaurant{Name: "Warung Tester"}
	require.NoError(t, db.Create(&restaurant).Error)
	require.NoError(t, db.Create(&models.Table{
		RestaurantID: restaurant.ID, TableNumber: "T1", Status: models.TableStatusAvailable,
	}).Error)
	return db
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func request(t *testing.T, r *gin.Engine, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env apiEnvelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func loginStaff(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w, env := request(t, r, http.MethodPost, "/login", map[string]string{
		"email":    "staff@test.local",
		"password": "secret123",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func scanTable(t *testing.T, r *gin.Engine, tableID uint) string {
	t.Helper()
	w, env := request(t, r, http.MethodGet, fmt.Sprintf("/tables/%d/scan", tableID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		SessionKey string `json:"session_key"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.SessionKey
}

type cartSnapshot struct {
	Items   []models.CartItem `json:"items"`
	Version int64             `json:"version"`
}

func putCart(t *testing.T, r *gin.Engine, key string, items []models.CartItem) cartSnapshot {
	t.Helper()
	w, env := request(t, r, http.MethodPut, "/sessions/"+key+"/cart",
		map[string]interface{}{"items": items}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap cartSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func getCart(t *testing.T, r *gin.Engine, key string) cartSnapshot {
	t.Helper()
	w, env := request(t, r, http.MethodGet, "/sessions/"+key+"/cart", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap cartSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}
