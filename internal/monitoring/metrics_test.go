package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBattle(t *testing.T) {
	m := New()
	m.RecordBattle("won", 700, 80, true)
	m.RecordBattle("won", 500, 50, false)
	m.RecordBattle("no_actions", 0, 0, false)

	if got := testutil.ToFloat64(m.battles.WithLabelValues("won")); got != 2 {
		t.Errorf("won = %v", got)
	}
	if got := testutil.ToFloat64(m.battles.WithLabelValues("no_actions")); got != 1 {
		t.Errorf("no_actions = %v", got)
	}
	if got := testutil.ToFloat64(m.goldAwarded); got != 1200 {
		t.Errorf("gold = %v", got)
	}
	if got := testutil.ToFloat64(m.xpAwarded); got != 130 {
		t.Errorf("xp = %v", got)
	}
	if got := testutil.ToFloat64(m.levelUps); got != 1 {
		t.Errorf("level ups = %v", got)
	}
}

func TestChatGauge(t *testing.T) {
	m := New()
	m.ChatConnected()
	m.ChatConnected()
	m.ChatDisconnected()
	m.ChatMessage()
	if got := testutil.ToFloat64(m.chatConnections); got != 1 {
		t.Errorf("connections = %v", got)
	}
	if got := testutil.ToFloat64(m.chatMessages); got != 1 {
		t.Errorf("messages = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordBattle("won", 1, 1, true)
	m.RecordCheckout("starter", "created")
	m.RecordPurchaseFulfilled()
	m.ChatConnected()
	m.ChatDisconnected()
	m.ChatMessage()
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/leaderboard", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/leaderboard?limit=5", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "/api/leaderboard", "200")); got != 1 {
		t.Errorf("leaderboard requests = %v", got)
	}
	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "immortal_requests_total") {
		t.Fatal("metrics output missing immortal_requests_total")
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
