// Package ops serves health and metrics endpoints on a listener separate from
// the state protocol, whose catch-all routes own every path.
package ops

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/diggerhq/digger/statebackend/internal/metrics"
)

const ServiceName = "statebackend"

// NewEngine returns an unauthenticated engine with /health, /metrics when reg
// is non-nil, and the /debug/pprof routes when withPprof is set.
func NewEngine(version string, reg *prom.Registry, withPprof bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": version,
			"service": ServiceName,
		})
	})

	if reg != nil {
		r.GET("/metrics", gin.WrapH(metrics.HTTPHandler(reg)))
	}
	if withPprof {
		pprof.Register(r)
	}
	return r
}
