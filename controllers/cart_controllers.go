package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/andriyanwar/meja-app/models"
	"github.com/andriyanwar/meja-app/services"
	"github.com/andriyanwar/meja-app/utils"
	"gorm.io/gorm"
)

type CartController struct {
	DB       *gorm.DB
	Carts    *services.CartStore
	Resolver *services.SessionResolver
}

func NewCartController(db *gorm.DB) *CartController {
	return &CartController{
		DB:       db,
		Carts:    services.NewCartStore(db),
		Resolver: services.NewSessionResolver(db),
	}
}

// session looks up the session behind a :session_key path param and
// rejects ended sessions, so stale tabs cannot write into a table's
// next party.
func (cc *CartController) session(c *gin.Context) (*models.Session, bool) {
	session, err := cc.Resolver.SessionByKey(c.Param("session_key"))
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return nil, false
	}
	if !session.Active() {
		utils.RespondError(c, http.StatusGone, ErrSessionExpired)
		return nil, false
	}
	return session, true
}

// GetCart returns the authoritative cart document with its version.
// This is the poll target of the convergence channel.
func (cc *CartController) GetCart(c *gin.Context) {
	session, ok := cc.session(c)
	if !ok {
		return
	}

	snap, err := cc.Carts.GetCart(session.ID)
	if err != nil {
		if err == services.ErrSessionNotFound {
			utils.RespondError(c, http.StatusNotFound, err)
			return
		}
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Cart", snap)
}

// PutCart replaces the whole cart document. The complete item list wins
// as a unit regardless of what it replaces; the server answers with the
// new version so the writing device can recognize its own echo.
func (cc *CartController) PutCart(c *gin.Context) {
	session, ok := cc.session(c)
	if !ok {
		return
	}

	var req struct {
		Items []models.CartItem `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	snap, err := cc.Carts.SetCart(session.ID, req.Items)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Cart for session %d replaced (version=%d, items=%d)",
		session.ID, snap.Version, len(snap.Items))
	utils.RespondJSON(c, http.StatusOK, "Cart updated", snap)
}
