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

type OrderController struct {
	DB       *gorm.DB
	Orders   *services.OrderService
	Resolver *services.SessionResolver
}

func NewOrderController(db *gorm.DB) *OrderController {
	return &OrderController{
		DB:       db,
		Orders:   services.NewOrderService(db),
		Resolver: services.NewSessionResolver(db),
	}
}

// CreateOrder snapshots the session's cart into an order and clears the
// cart in the same transaction.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	session, err := oc.Resolver.SessionByKey(c.Param("session_key"))
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	if !session.Active() {
		utils.RespondError(c, http.StatusGone, ErrSessionExpired)
		return
	}

	order, err := oc.Orders.CreateOrder(session.ID)
	if err != nil {
		if err == services.ErrEmptyCart {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Order %d created for session %d (total=%.2f)",
		order.ID, session.ID, order.TotalAmount)
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

// GetSessionOrders lists a session's orders, newest first.
func (oc *OrderController) GetSessionOrders(c *gin.Context) {
	session, err := oc.Resolver.SessionByKey(c.Param("session_key"))
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}

	var orders []models.Order
	if err := oc.DB.Preload("OrderItems").
		Where("session_id = ?", session.ID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session orders", orders)
}

// GetOrder returns one order with its item snapshot. This is the poll
// target devices use to notice a payment made elsewhere.
func (oc *OrderController) GetOrder(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	order, err := oc.Orders.GetOrder(uint(orderID))
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// DeleteOrder removes an unpaid order (customer went back from the
// payment view). Paid orders are immutable.
func (oc *OrderController) DeleteOrder(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	if err := oc.Orders.DeleteUnpaidOrder(uint(orderID)); err != nil {
		switch err {
		case services.ErrOrderNotFound:
			utils.RespondError(c, http.StatusNotFound, err)
		case services.ErrOrderAlreadyPaid:
			utils.RespondError(c, http.StatusConflict, err)
		default:
			utils.RespondError(c, http.StatusInternalServerError, err)
		}
		return
	}

	utils.InfoLogger.Printf("Unpaid order %d deleted", orderID)
	utils.RespondJSON(c, http.StatusOK, "Order deleted", gin.H{"id": orderID})
}

// GetAllOrders is the staff view across sessions.
func (oc *OrderController) GetAllOrders(c *gin.Context) {
	query := oc.DB.Preload("OrderItems").Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

// UpdateOrderStatus moves a paid order through the kitchen workflow.
func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	role, _ := roleInterface.(string)
	if role != "chef" && role != "staff" && role != "admin" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := oc.Orders.AdvanceWorkflow(uint(orderID), body.Status)
	if err != nil {
		if err == services.ErrOrderNotFound {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	utils.InfoLogger.Printf("Order %d moved to %s by %s", order.ID, order.Status, role)
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}
