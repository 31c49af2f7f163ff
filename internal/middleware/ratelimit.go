package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
)

type RateLimitMiddleware struct {
	log   *logger.Logger
	store CounterStore
}

func NewRateLimitMiddleware(log *logger.Logger, store CounterStore) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		log:   log.With("middleware", "RateLimitMiddleware"),
		store: store,
	}
}

// RateLimitResult carries the outcome of one budget check; headers are set
// from it whether or not the request proceeds.
type RateLimitResult struct {
	Limited   bool
	Limit     int
	Remaining int64
	ResetAt   time.Time
}

// Check increments the caller's counter for routeKey. On counter-store
// failure the caller is treated as unlimited; chat availability outranks
// strict quota enforcement here.
func (rl *RateLimitMiddleware) Check(c *gin.Context, routeKey string, limit int, window time.Duration) RateLimitResult {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || limit <= 0 {
		return RateLimitResult{Limit: limit}
	}
	key := fmt.Sprintf("ratelimit:%s:%s", rd.UserID, routeKey)
	count, resetAt, err := rl.store.Incr(c.Request.Context(), key, window)
	if err != nil {
		rl.log.Warn("rate limit store unavailable, failing open", "route", routeKey, "error", err)
		return RateLimitResult{Limit: limit}
	}
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Limited:   count > int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// SetHeaders writes the X-RateLimit-* trio. Called before the stream body
// starts so the headers survive even when the stream later fails.
func (r RateLimitResult) SetHeaders(c *gin.Context) {
	if r.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(r.Remaining, 10))
	if !r.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
	}
}

func (r RateLimitResult) RetryAfter() time.Duration {
	d := time.Until(r.ResetAt)
	if d < 0 {
		d = 0
	}
	return d
}

// Limit is the gin-middleware form for plain JSON routes. The streaming
// chat handler calls Check directly instead, so it can fold the headers
// into the stream response.
func (rl *RateLimitMiddleware) Limit(routeKey string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := rl.Check(c, routeKey, limit, window)
		res.SetHeaders(c)
		if res.Limited {
			abortWithError(c, apperrors.RateLimited(res.RetryAfter()))
			return
		}
		c.Next()
	}
}

// abortWithError writes the same envelope the handlers package uses. It
// lives here so middleware stays below handlers in the import graph.
func abortWithError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	msg := "internal server error"
	if err != nil && status != http.StatusInternalServerError {
		msg = err.Error()
	}
	body := gin.H{"error": msg, "statusCode": status}
	if ra := apperrors.RetryAfterOf(err); ra > 0 {
		secs := int64(ra.Seconds())
		if secs < 1 {
			secs = 1
		}
		body["retry_after"] = secs
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
	c.AbortWithStatusJSON(status, body)
}
