package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/andriyanwar/meja-app/realtime"
	"github.com/andriyanwar/meja-app/services"
	"github.com/andriyanwar/meja-app/utils"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // customer devices connect from the table's QR origin
	},
}

type RealtimeController struct {
	Resolver *services.SessionResolver
}

func NewRealtimeController(db *gorm.DB) *RealtimeController {
	return &RealtimeController{Resolver: services.NewSessionResolver(db)}
}

// SessionSocket is the push side of the convergence channel for one
// session: the device subscribes to the session's cart and order keys
// and receives every committed change. Push is best-effort only; the
// poll path covers anything this socket misses.
func (rc *RealtimeController) SessionSocket(c *gin.Context) {
	session, err := rc.Resolver.SessionByKey(c.Param("session_key"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if !session.Active() {
		c.AbortWithStatus(http.StatusGone)
		return
	}

	keys := []string{
		realtime.CartKey(session.ID),
		realtime.SessionOrdersKey(session.ID),
	}
	if orderID, err := strconv.ParseUint(c.Query("order_id"), 10, 64); err == nil {
		keys = append(keys, realtime.OrderKey(uint(orderID)))
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	realtime.RegisterClient(ws, keys)
	utils.InfoLogger.Printf("Device connected to session %d socket", session.ID)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	realtime.UnregisterClient(ws)
}

// StaffSocket feeds staff dashboards: table and order updates across
// the whole floor. Reached through the JWT-protected group.
func (rc *RealtimeController) StaffSocket(c *gin.Context) {
	roleInterface, exists := c.Get("role")
	if !exists {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	role := roleInterface.(string)
	if role != "chef" && role != "staff" && role != "admin" {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	var keys []string
	for _, raw := range c.QueryArray("table_id") {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			keys = append(keys, realtime.TableKey(uint(id)))
		}
	}
	for _, raw := range c.QueryArray("order_id") {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			keys = append(keys, realtime.OrderKey(uint(id)))
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	realtime.RegisterClient(ws, keys)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	realtime.UnregisterClient(ws)
}
