package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/diggerhq/digger/statebackend/internal/logging"
)

// RequestID echoes an incoming X-Request-ID or generates one, so every log
// line for the request can carry it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(logging.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(logging.HeaderXRequestID, id)
		c.Next()
	}
}
