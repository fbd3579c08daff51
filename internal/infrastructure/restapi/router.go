package restapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter builds the gin engine with CORS, request logging, /metrics and the v1 API.
func SetupRouter(handler *ReconcilerHandler, allowOrigins []string, zapLogger *zap.Logger) *gin.Engine {
	router := gin.New()

	corsConfig := cors.DefaultConfig()
	if len(allowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.Use(ZapLoggerMiddleware(zapLogger))
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		events.POST("/balance", handler.PostBalanceEvent)
		events.POST("/scan/:kind", handler.PostScanEvent)

		v1.GET("/balances", handler.GetBalances)
		v1.GET("/balances/:walletId", handler.GetBalances)
		v1.GET("/balances/:walletId/:bucket", handler.GetBalances)

		v1.POST("/connect", handler.Connect)
		v1.POST("/disconnect", handler.Disconnect)
		v1.POST("/restore", handler.Restore)
		v1.POST("/refresh", handler.Refresh)

		v1.GET("/state", handler.GetState)
		v1.GET("/scans", handler.GetScans)
		v1.GET("/diagnostics", handler.GetDiagnostics)
	}

	return router
}
