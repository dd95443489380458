package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/depay/logger"
)

// NewRouter wires the handlers. /metrics is served only when gatherer is set.
func NewRouter(engine Engine, l logger.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	if l == nil {
		l = logger.NoopLogger{}
	}
	h := NewHandler(engine, l)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(l))

	r.GET("/healthz", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/quote", h.Quote)
		v1.POST("/pay", h.Pay)
		v1.POST("/approve", h.Approve)
		v1.POST("/withdraw", h.Withdraw)
		v1.POST("/treasury/withdraw", h.TreasuryWithdraw)
		v1.GET("/treasury/balance", h.TreasuryBalance)
		v1.GET("/balances/:owner", h.Balance)
		v1.GET("/payments/:hash", h.Payment)
	}

	return r
}

func requestLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("http request", map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}
