package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
)

// ErrorEnvelope is the non-stream error body on every route.
type ErrorEnvelope struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	// RetryAfter is set on rate-limit errors, in seconds.
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// RespondError maps an error through the apperrors taxonomy onto an HTTP
// status and writes the envelope.
func RespondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	msg := "internal server error"
	if err != nil && status != http.StatusInternalServerError {
		msg = err.Error()
	}
	env := ErrorEnvelope{Error: msg, StatusCode: status}
	if ra := apperrors.RetryAfterOf(err); ra > 0 {
		env.RetryAfter = int64(ra.Seconds())
		c.Header("Retry-After", formatSeconds(ra))
	}
	c.JSON(status, env)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func formatSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
