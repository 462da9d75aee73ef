package services

import (
	"os"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	os.Exit(m.Run())
}

// newTestDB opens a fresh in-memory database and seeds one restaurant
// with one table. Connections are capped at one so concurrent service
// calls serialize instead of tripping sqlite's write lock.
func newTestDB(t *testing.T) (*gorm.DB, models.Table) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	err = db.AutoMigrate(
		&models.Restaurant{},
		&models.User{},
		&models.Table{},
		&models.Session{},
		&models.Cart{},
		&models.MenuCategory{},
		&models.Menu{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.DBChange{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	restaurant := models.Restaurant{Name: "Test Kitchen", TaxRate: 0}
	if err := db.Create(&restaurant).Error; err != nil {
		t.Fatalf("failed to seed restaurant: %v", err)
	}
	table := models.Table{
		RestaurantID: restaurant.ID,
		TableNumber:  "T1",
		Status:       models.TableStatusAvailable,
	}
	if err := db.Create(&table).Error; err != nil {
		t.Fatalf("failed to seed table: %v", err)
	}
	return db, table
}
