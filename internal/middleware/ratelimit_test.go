package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
)

type failingStore struct{}

func (failingStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func newLimitedRouter(store CounterStore, limit int) (*gin.Engine, uuid.UUID) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	rl := NewRateLimitMiddleware(logger.NewNop(), store)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
	})
	router.GET("/limited", rl.Limit("test", limit, time.Minute), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router, userID
}

func TestRateLimitWithinBudget(t *testing.T) {
	router, _ := newLimitedRouter(NewMemoryCounterStore(), 3)

	for i := 1; i <= 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/limited", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Fatalf("request %d: X-RateLimit-Limit = %q", i, got)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/limited", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request 4: expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("request 4: X-RateLimit-Remaining = %q", got)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("request 4: Retry-After header missing")
	}
}

func TestRateLimitIndependentUsers(t *testing.T) {
	store := NewMemoryCounterStore()
	routerA, _ := newLimitedRouter(store, 1)
	routerB, _ := newLimitedRouter(store, 1)

	wA := httptest.NewRecorder()
	routerA.ServeHTTP(wA, httptest.NewRequest("GET", "/limited", nil))
	wB := httptest.NewRecorder()
	routerB.ServeHTTP(wB, httptest.NewRequest("GET", "/limited", nil))

	if wA.Code != http.StatusOK || wB.Code != http.StatusOK {
		t.Fatalf("independent users should not share a budget: %d, %d", wA.Code, wB.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	router, _ := newLimitedRouter(failingStore{}, 1)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/limited", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("store failure must fail open, got %d", w.Code)
		}
	}
}

func TestMemoryCounterWindowReset(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	count, _, err := store.Incr(ctx, "k", 10*time.Millisecond)
	if err != nil || count != 1 {
		t.Fatalf("first incr: count=%d err=%v", count, err)
	}
	count, _, _ = store.Incr(ctx, "k", 10*time.Millisecond)
	if count != 2 {
		t.Fatalf("second incr: count=%d", count)
	}

	time.Sleep(20 * time.Millisecond)
	count, _, _ = store.Incr(ctx, "k", 10*time.Millisecond)
	if count != 1 {
		t.Fatalf("expired window should restart at 1, got %d", count)
	}
}
