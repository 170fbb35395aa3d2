package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/api/handlers"
	"github.com/orrn/kioskd/internal/api/middleware"
	"github.com/orrn/kioskd/internal/colorpark"
	"github.com/orrn/kioskd/internal/config"
	"github.com/orrn/kioskd/internal/core"
	"github.com/orrn/kioskd/internal/history"
	"github.com/orrn/kioskd/internal/notify"
)

// Deps collects everything the HTTP surface needs. History and Vendor may be
// nil; the affected routes answer 503.
type Deps struct {
	Config       *config.Config
	Service      *core.Service
	Bridge       *core.StatusBridge
	Correlations *core.CorrelationTable
	Hub          *notify.Hub
	History      *history.Store
	Vendor       *colorpark.Client
	Logger       *zap.Logger
}

// NewRouter assembles the engine: open auth and vendor ingress routes,
// session-guarded kiosk routes and the operator surface.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(deps.Logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	handlers.NewAuthHandler(deps.Config.Auth, deps.Logger).RegisterRoutes(api)
	handlers.NewVendorHandler(deps.Bridge, deps.Logger).RegisterRoutes(api)

	session := api.Group("", middleware.Session(deps.Config.Auth.SessionSecret))
	handlers.NewJobsHandler(deps.Service, deps.Logger).RegisterRoutes(session)
	handlers.NewDevicesHandler(deps.Service, deps.Logger).RegisterRoutes(session)
	handlers.NewEventsHandler(deps.Hub, deps.Logger).RegisterRoutes(session)

	operator := api.Group("/admin", middleware.Operator(deps.Config.Auth.SessionSecret))
	handlers.NewAdminHandler(deps.Config.Auth, deps.History, deps.Correlations, deps.Vendor, deps.Logger).RegisterRoutes(operator)

	return r
}
