package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/pogo-tools/account-broker/internal/config"
)

// BasicAuth enforces the fixed credential pair from config on every
// endpoint.
func BasicAuth(cfg *config.Config) gin.HandlerFunc {
	return gin.BasicAuth(gin.Accounts{
		cfg.AuthUsername: cfg.AuthPassword,
	})
}
