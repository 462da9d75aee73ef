package router

import (
	"github.com/gin-gonic/gin"
	"github.com/andriyanwar/meja-app/controllers"
	"github.com/andriyanwar/meja-app/middlewares"
	"gorm.io/gorm"
)

func SetupRouter(db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares())
	r.Use(middlewares.LoggerMiddleware())

	userCtrl := controllers.NewUserController(db)
	tableCtrl := controllers.NewTableController(db)
	cartCtrl := controllers.NewCartController(db)
	orderCtrl := controllers.NewOrderController(db)
	paymentCtrl := controllers.NewPaymentController(db)
	categoryCtrl := controllers.NewMenuCategoryController(db)
	menuCtrl := controllers.NewMenuController(db)
	realtimeCtrl := controllers.NewRealtimeController(db)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// rate limiter for login/register
	public := r.Group("/")
	public.Use(middlewares.NewStrictRateLimiter())
	{
		public.POST("/register", userCtrl.Register)
		public.POST("/login", userCtrl.Login)
	}

	// ----------------------------------------------------------------
	//                      CUSTOMER ROUTES (no auth)
	// ----------------------------------------------------------------
	// Customers are identified by the session key from the table's QR
	// code, never by an account.

	r.GET("/categories", categoryCtrl.GetAllCategories)
	r.GET("/menus", menuCtrl.GetAllMenus)
	r.GET("/menus/:menu_id", menuCtrl.GetMenuByID)

	// QR entry: every device at the table gets the same session key
	r.GET("/tables/:table_id/scan", tableCtrl.ScanTable)
	r.GET("/tables/:table_id/session", tableCtrl.GetTableSession)

	// Shared cart: one document per session, whole-document replace
	r.GET("/sessions/:session_key/cart", cartCtrl.GetCart)
	r.PUT("/sessions/:session_key/cart", cartCtrl.PutCart)

	// Orders
	r.POST("/sessions/:session_key/orders", orderCtrl.CreateOrder)
	r.GET("/sessions/:session_key/orders", orderCtrl.GetSessionOrders)
	r.GET("/orders/:order_id", orderCtrl.GetOrder)
	r.DELETE("/orders/:order_id", orderCtrl.DeleteOrder)

	// Payments
	r.POST("/orders/:order_id/payments", paymentCtrl.CreatePayment)
	r.GET("/orders/:order_id/payments", paymentCtrl.GetPayment)
	r.GET("/orders/:order_id/payments/check", paymentCtrl.CheckPaymentStatus)
	r.POST("/payments/callback", paymentCtrl.GatewayCallback)

	// Push side of the convergence channel
	r.GET("/ws/sessions/:session_key", realtimeCtrl.SessionSocket)

	// ----------------------------------------------------------------
	//                      STAFF ROUTES (JWT)
	// ----------------------------------------------------------------
	auth := r.Group("/admin")
	auth.Use(middlewares.AuthMiddleware())

	// TABLES
	auth.GET("/tables", tableCtrl.GetAllTables)
	auth.POST("/tables", middlewares.RequireRoles(), tableCtrl.CreateTable)
	auth.GET("/tables/:table_id", tableCtrl.GetTableByID)
	auth.PATCH("/tables/:table_id/clean", middlewares.RequireRoles("staff"), tableCtrl.MarkTableClean)
	auth.DELETE("/tables/:table_id", middlewares.RequireRoles(), tableCtrl.DeleteTable)

	// MENU CATEGORIES (admin only)
	auth.POST("/categories", middlewares.RequireRoles(), categoryCtrl.CreateCategory)
	auth.DELETE("/categories/:category_id", middlewares.RequireRoles(), categoryCtrl.DeleteCategory)

	// MENUS (admin only)
	auth.POST("/menus", middlewares.RequireRoles(), menuCtrl.CreateMenu)
	auth.PATCH("/menus/:menu_id", middlewares.RequireRoles(), menuCtrl.UpdateMenu)
	auth.DELETE("/menus/:menu_id", middlewares.RequireRoles(), menuCtrl.DeleteMenu)

	// ORDERS
	auth.GET("/orders", orderCtrl.GetAllOrders)
	auth.GET("/orders/:order_id", orderCtrl.GetOrder)
	auth.PATCH("/orders/:order_id/status", orderCtrl.UpdateOrderStatus)

	// PAYMENTS
	auth.POST("/orders/:order_id/confirm-cash", paymentCtrl.ConfirmCash)
	auth.GET("/orders/:order_id/payments", paymentCtrl.GetPayment)

	// Staff dashboard socket
	auth.GET("/ws", realtimeCtrl.StaffSocket)

	return r
}
