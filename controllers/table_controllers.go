package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/services"
	"github.com/andriyanwar/meja-app/utils"
	"gorm.io/gorm"
)

type TableController struct {
	DB       *gorm.DB
	Resolver *services.SessionResolver
}

func NewTableController(db *gorm.DB) *TableController {
	return &TableController{
		DB:       db,
		Resolver: services.NewSessionResolver(db),
	}
}

// ScanTable is the QR entry point. Every device at the table lands here;
// the resolver hands them all the same session key, creating the session
// only when none is active yet.
func (tc *TableController) ScanTable(c *gin.Context) {
	tableID, err := strconv.ParseUint(c.Param("table_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid table id"))
		return
	}

	session, err := tc.Resolver.ResolveSession(uint(tableID))
	if err != nil {
		if err == services.ErrTableNotFound {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Table %d scanned, session %s", tableID, session.SessionKey)
	utils.RespondJSON(c, http.StatusOK, "Session resolved", gin.H{
		"session_key": session.SessionKey,
		"session_id":  session.ID,
		"table_id":    session.TableID,
		"started_at":  session.StartedAt,
	})
}

// GetTableSession returns the active session for a table without
// creating one; staff dashboards use this.
func (tc *TableController) GetTableSession(c *gin.Context) {
	tableID, err := strconv.ParseUint(c.Param("table_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid table id"))
		return
	}

	session, err := tc.Resolver.ActiveSession(uint(tableID))
	if err != nil {
		if err == services.ErrSessionNotFound {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Active session", session)
}

// CreateTable registers a new table.
func (tc *TableController) CreateTable(c *gin.Context) {
	var req struct {
		RestaurantID uint   `json:"restaurant_id" binding:"required"`
		TableNumber  string `json:"table_number" binding:"required"`
		Status       string `json:"status"` // optional, default "available"
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	table := models.Table{
		RestaurantID: req.RestaurantID,
		TableNumber:  req.TableNumber,
		Status:       models.TableStatusAvailable,
	}
	if req.Status != "" {
		table.Status = req.Status
	}

	if err := tc.DB.Create(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("New table created: %s (status=%s)", table.TableNumber, table.Status)
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

// GetAllTables lists tables, optionally filtered by status.
func (tc *TableController) GetAllTables(c *gin.Context) {
	query := tc.DB.Model(&models.Table{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var tables []models.Table
	if err := query.Find(&tables).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// GetTableByID returns one table.
func (tc *TableController) GetTableByID(c *gin.Context) {
	var table models.Table
	if err := tc.DB.First(&table, c.Param("table_id")).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table detail", table)
}

// MarkTableClean lets staff return a dirty table to rotation.
func (tc *TableController) MarkTableClean(c *gin.Context) {
	var table models.Table
	if err := tc.DB.First(&table, c.Param("table_id")).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}

	if table.Status != models.TableStatusDirty {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("table is not dirty"))
		return
	}

	if err := tc.DB.Model(&table).Update("status", models.TableStatusAvailable).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Table %d marked clean", table.ID)
	utils.RespondJSON(c, http.StatusOK, "Table marked as clean", table)
}

// DeleteTable removes a table. Refused while a session is active on it.
func (tc *TableController) DeleteTable(c *gin.Context) {
	var table models.Table
	if err := tc.DB.First(&table, c.Param("table_id")).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}

	if table.CurrentSessionID != nil {
		utils.RespondError(c, http.StatusConflict, fmt.Errorf("table has an active session"))
		return
	}

	if err := tc.DB.Delete(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Table %d deleted", table.ID)
	utils.RespondJSON(c, http.StatusOK, "Table deleted", gin.H{"id": table.ID})
}
