package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, d Deps) *gin.Engine {
	r := gin.Default()
	handler := NewHandler(d)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl, mw.RequestKey)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/reservations", handler.CreateReservation)
		api.GET("/reservations/:id", handler.GetReservation)
		api.DELETE("/reservations/:id", handler.CancelReservation)
		api.GET("/students/:studentId/reservations", handler.ListStudentReservations)
		api.GET("/queue/stats", handler.GetQueueStats)

		api.GET("/rooms/:room/seats/:seat/prediction", caching, handler.GetSeatPrediction)

		api.GET("/students/:studentId/auto-extension", handler.GetAutoExtension)
		api.PUT("/students/:studentId/auto-extension", handler.PutAutoExtension)

		api.GET("/periods", handler.ListPeriods)
		api.POST("/periods", handler.CreatePeriod)

		api.PUT("/students/:studentId/subscriptions", handler.PutSubscription)
		api.DELETE("/students/:studentId/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
