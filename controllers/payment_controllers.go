package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/andriyanwar/meja-app/services"
	"github.com/andriyanwar/meja-app/utils"
	"gorm.io/gorm"
)

type PaymentController struct {
	DB       *gorm.DB
	Payments *services.PaymentService
}

func NewPaymentController(db *gorm.DB) *PaymentController {
	return &PaymentController{
		DB:       db,
		Payments: services.NewPaymentService(db),
	}
}

// CreatePayment opens a gateway charge for an order and returns the
// redirect URL / QR string for the payment widget.
func (pc *PaymentController) CreatePayment(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	payment, err := pc.Payments.CreateGatewayPayment(uint(orderID))
	if err != nil {
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

	utils.InfoLogger.Printf("Payment %s created for order %d", payment.ReferenceID, orderID)
	utils.RespondJSON(c, http.StatusCreated, "Payment created", payment)
}

// GetPayment returns the payment attempt attached to an order.
func (pc *PaymentController) GetPayment(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	payment, err := pc.Payments.GetPaymentByOrderID(uint(orderID))
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment detail", payment)
}

// GatewayCallback is the public webhook the payment gateway posts to.
// The signature is verified before anything is trusted; a settlement
// here is what flips the order paid server-side even if every customer
// device has gone dark.
func (pc *PaymentController) GatewayCallback(c *gin.Context) {
	var notif struct {
		OrderID           string `json:"order_id"`
		TransactionStatus string `json:"transaction_status"`
		StatusCode        string `json:"status_code"`
		GrossAmount       string `json:"gross_amount"`
		SignatureKey      string `json:"signature_key"`
	}
	if err := c.ShouldBindJSON(&notif); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	err := pc.Payments.HandleGatewayCallback(
		notif.OrderID, notif.TransactionStatus,
		notif.StatusCode, notif.GrossAmount, notif.SignatureKey,
	)
	if err != nil {
		if err == services.ErrBadSignature {
			utils.ErrorLogger.Printf("Gateway callback with bad signature for %s", notif.OrderID)
			utils.RespondError(c, http.StatusForbidden, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Gateway callback processed: %s -> %s", notif.OrderID, notif.TransactionStatus)
	utils.RespondJSON(c, http.StatusOK, "Callback processed", nil)
}

// CheckPaymentStatus re-queries the gateway for an order's pending
// attempt, for when the callback went missing.
func (pc *PaymentController) CheckPaymentStatus(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	payment, err := pc.Payments.RefreshGatewayStatus(uint(orderID))
	if err != nil {
		if err == services.ErrOrderNotFound {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusBadGateway, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Payment status", payment)
}

// ConfirmCash lets staff settle an order paid at the counter.
func (pc *PaymentController) ConfirmCash(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	role, _ := roleInterface.(string)
	if role != "staff" && role != "admin" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}

	var body struct {
		CashReceived float64 `json:"cash_received" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	userIDInterface, _ := c.Get("user_id")
	userID, _ := userIDInterface.(uint)

	payment, err := pc.Payments.ConfirmCash(uint(orderID), userID, body.CashReceived)
	if err != nil {
		switch err {
		case services.ErrOrderNotFound:
			utils.RespondError(c, http.StatusNotFound, err)
		case services.ErrOrderAlreadyPaid:
			utils.RespondError(c, http.StatusConflict, err)
		default:
			utils.RespondError(c, http.StatusBadRequest, err)
		}
		return
	}

	utils.InfoLogger.Printf("Cash payment for order %d confirmed by user %d", orderID, userID)
	utils.RespondJSON(c, http.StatusOK, "Payment confirmed", payment)
}
