// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poolride/internal/http/handlers"
	"poolride/internal/http/middleware"
	"poolride/internal/infra"
)

type RouterDeps struct {
	Pools    handlers.PoolService
	Drivers  handlers.DriverService
	Verifier infra.TokenVerifier
	Log      *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	poolHandler := handlers.NewPoolHandler(deps.Pools)
	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Pools)
	adminHandler := handlers.NewAdminHandler(deps.Drivers, deps.Pools)

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	api.POST("/pools/search", poolHandler.Search)
	api.POST("/pools/book", poolHandler.Book)
	api.POST("/pools/:id/join", poolHandler.Join)
	api.POST("/pools/:id/leave", poolHandler.Leave)
	api.GET("/pools/:id", poolHandler.Get)
	api.POST("/fares/quote", poolHandler.QuoteFares)

	api.GET("/drivers/:id", driverHandler.Get)

	driverOnly := api.Group("", middleware.RequireRole(handlers.RoleDriver))
	driverOnly.POST("/drivers", driverHandler.Register)
	driverOnly.PATCH("/drivers/:id", driverHandler.Edit)
	driverOnly.POST("/drivers/:id/online", driverHandler.GoOnline)
	driverOnly.POST("/drivers/:id/offline", driverHandler.GoOffline)
	driverOnly.POST("/pools/:id/assign", driverHandler.Assign)
	driverOnly.POST("/pools/:id/start", driverHandler.StartPickup)
	driverOnly.POST("/pools/:id/participants/:studentId/pickup", driverHandler.PickedUp)
	driverOnly.POST("/pools/:id/participants/:studentId/dropoff", driverHandler.DroppedOff)

	adminOnly := api.Group("", middleware.RequireRole(handlers.RoleAdmin))
	adminOnly.POST("/pools/:id/cancel", adminHandler.CancelPool)
	adminOnly.GET("/admin/drivers/pending", adminHandler.ListPending)
	adminOnly.POST("/admin/drivers/:id/approve", adminHandler.Approve)
	adminOnly.POST("/admin/drivers/:id/reject", adminHandler.Reject)

	return r
}
