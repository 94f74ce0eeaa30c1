package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pogo-tools/account-broker/internal/models"
)

// respOK writes the success envelope.
func respOK(c *gin.Context, code int, data map[string]interface{}) {
	c.JSON(code, models.Envelope(data))
}

// respFail writes the failure envelope, 400 by default.
func respFail(c *gin.Context, code int, data interface{}) {
	if code == 0 {
		code = http.StatusBadRequest
	}
	c.JSON(code, models.FailEnvelope(data))
}

// noAccounts is the 204 body for an empty pick.
func noAccounts(c *gin.Context) {
	respOK(c, http.StatusNoContent, map[string]interface{}{"error": "No accounts available"})
}
