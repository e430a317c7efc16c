package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyedLimiterPerKey(t *testing.T) {
	l := NewKeyedLimiter(rate.Every(time.Hour), 2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst rejected")
	}
	if l.Allow("a") {
		t.Fatal("third request allowed")
	}
	if !l.Allow("b") {
		t.Fatal("independent key rejected")
	}
}

func TestKeyedLimiterCleanup(t *testing.T) {
	l := NewKeyedLimiter(10, 1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("old")
	now = now.Add(2 * time.Minute)
	l.Allow("fresh")

	if n := l.Cleanup(); n != 1 {
		t.Fatalf("removed %d", n)
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Fatal("fresh bucket removed")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	l := NewKeyedLimiter(0, 0, 0)
	if l != nil || !l.Allow("x") || l.Cleanup() != 0 {
		t.Fatal("disabled limiter should allow everything")
	}
}

func TestLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewKeyedLimiter(rate.Every(time.Hour), 1, time.Minute)
	r := gin.New()
	r.POST("/login", l.Middleware(ClientIP), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	if w := do(); w.Code != http.StatusNoContent {
		t.Fatalf("first = %d", w.Code)
	}
	w := do()
	if w.Code != http.StatusTooManyRequests || w.Body.String() != `{"error":"Too many requests"}` {
		t.Fatalf("second = %d %s", w.Code, w.Body.String())
	}
}
