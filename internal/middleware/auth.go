package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/diggerhq/digger/statebackend/internal/auth"
	"github.com/diggerhq/digger/statebackend/internal/logging"
	"github.com/diggerhq/digger/statebackend/internal/metrics"
)

// RequireBasicAuth rejects every request that does not carry the shared
// credential, before any route is resolved.
func RequireBasicAuth(a *auth.Authenticator, rec metrics.Recorder) gin.HandlerFunc {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return func(c *gin.Context) {
		err := a.Check(c.GetHeader("Authorization"))
		if err == nil {
			c.Next()
			return
		}

		log := logging.FromContext(c)
		c.Header("WWW-Authenticate", auth.Challenge)
		if errors.Is(err, auth.ErrUnauthenticated) {
			log.Warn("Request without credentials", "method", c.Request.Method, "path", c.Request.URL.Path)
			rec.IncAuthFailure("missing")
			c.String(http.StatusUnauthorized, "Missing credentials")
		} else {
			log.Warn("Request with invalid credentials", "method", c.Request.Method, "path", c.Request.URL.Path)
			rec.IncAuthFailure("invalid")
			c.String(http.StatusForbidden, "Invalid credentials")
		}
		c.Abort()
	}
}
