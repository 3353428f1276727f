package middleware

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/diggerhq/digger/statebackend/internal/logging"
)

// Recovery turns a panic into a 500 whose body is the panic value and stack.
// The backend is operator-facing, so the trace goes to the client as well as
// the log. Panics are also reported to Sentry when a client is configured.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		stack := debug.Stack()
		logging.FromContext(c).Error("Panic while handling request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"panic", recovered,
			"stack", string(stack))
		sentry.CurrentHub().Recover(recovered)
		c.Header("Cache-Control", "no-store")
		c.String(http.StatusInternalServerError, fmt.Sprintf("%v\n\n%s", recovered, stack))
		c.Abort()
	})
}
