// Package api exposes the scheduling operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/blog-scheduler/internal/logger"
)

const corsMaxAgeHours = 12

// HealthCheck names a dependency probe run by the /health endpoint.
type HealthCheck struct {
	Name  string
	Check func() error
}

// NewRouter builds the gin engine with all scheduling routes mounted.
// gatherer feeds the /metrics endpoint; pass prometheus.DefaultGatherer
// in production.
func NewRouter(svc SchedulingService, gatherer prometheus.Gatherer, corsOrigins []string, log logger.Logger, checks ...HealthCheck) *gin.Engine {
	router := gin.New()

	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           corsMaxAgeHours * time.Hour,
		}))
	}

	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	router.GET("/health", healthHandler(checks))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	handlers := NewHandlers(svc, log)

	posts := v1.Group("/posts")
	posts.POST("", handlers.CreatePost)
	posts.GET("/:id", handlers.GetPost)
	posts.POST("/:id/reschedule", handlers.ReschedulePost)
	posts.POST("/:id/publish", handlers.PublishPost)
	posts.POST("/:id/cancel", handlers.CancelPost)

	stores := v1.Group("/stores")
	stores.GET("/:storeID/posts", handlers.ListStorePosts)
	stores.GET("/:storeID/stats", handlers.GetStoreStats)

	return router
}

// healthHandler reports ok when every dependency probe passes, degraded
// with a 503 otherwise.
func healthHandler(checks []HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		overall := "ok"
		results := gin.H{}

		for _, check := range checks {
			if err := check.Check(); err != nil {
				results[check.Name] = err.Error()
				overall = "degraded"
				status = http.StatusServiceUnavailable
			} else {
				results[check.Name] = "ok"
			}
		}

		c.JSON(status, gin.H{
			"status":  overall,
			"service": "blog-scheduler",
			"checks":  results,
		})
	}
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", c.Writer.Status()),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}
