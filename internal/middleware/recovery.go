package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/pogo-tools/account-broker/internal/models"
	"github.com/rs/zerolog/log"
)

// Recovery catches panics and answers with the failure envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, models.FailEnvelope(nil))
			}
		}()
		c.Next()
	}
}
