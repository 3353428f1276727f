package backend

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/diggerhq/digger/statebackend/internal/auth"
	"github.com/diggerhq/digger/statebackend/internal/config"
	"github.com/diggerhq/digger/statebackend/internal/kvstore"
	"github.com/diggerhq/digger/statebackend/internal/lock"
	"github.com/diggerhq/digger/statebackend/internal/metrics"
	"github.com/diggerhq/digger/statebackend/internal/middleware"
	"github.com/diggerhq/digger/statebackend/internal/state"
)

// Dependencies is everything the protocol engine needs, built once at startup.
type Dependencies struct {
	Protocol config.Protocol
	Auth     *auth.Authenticator
	Store    kvstore.Store
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// NewHandler wires the state store and lock coordinator over one KV store.
func NewHandler(p config.Protocol, kv kvstore.Store, rec metrics.Recorder) *Handler {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Handler{
		routes:       newRouteTable(p),
		states:       state.New(kv),
		locks:        lock.New(kv),
		metrics:      rec,
		maxBodyBytes: p.MaxBodyBytes,
	}
}

// NewEngine builds the gin engine serving the protocol. Every path is routed
// through one catch-all per configured verb; authentication runs first, also
// for requests that end up unmatched.
func NewEngine(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(deps.Protocol, deps.Store, deps.Metrics)

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Recovery())
	r.Use(middleware.RequireBasicAuth(deps.Auth, deps.Metrics))

	for _, method := range h.routes.methods() {
		r.Handle(method, "/*path", h.Dispatch)
	}
	r.NoRoute(h.NotFound)

	if h.locks.Atomic() {
		logger.Info("Lock acquisition uses atomic create")
	} else {
		logger.Warn("Store has no atomic create; concurrent lock requests may both succeed")
	}
	return r
}
