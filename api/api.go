package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/settlr/settlr"
	"github.com/settlr/settlr/api/middleware"
	"github.com/settlr/settlr/config"
)

type Api struct {
	settlr *settlr.Settlr
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/payments", a.CreatePayment)
	router.GET("/payments", a.ListPayments)
	router.GET("/payments/export", a.ExportPayments)
	router.GET("/payments/:id", a.GetPayment)
	router.GET("/payments/:id/qr", a.GetPaymentQR)

	router.GET("/rollups", a.GetRollup)
	router.GET("/rollups/top-counterparties", a.GetTopCounterparties)
	router.GET("/analytics", a.GetAnalytics)

	router.POST("/counterparties", a.UpsertCounterparty)
	router.GET("/counterparties", a.ListCounterparties)

	router.POST("/recover", a.RecoverStalledIntents)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return a.router
}

func NewAPI(s *settlr.Settlr) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{settlr: s, router: r}
}
