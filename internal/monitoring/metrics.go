package monitoring

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. All record methods are safe to
// call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry
	server   *http.Server

	battles            *prometheus.CounterVec
	levelUps           prometheus.Counter
	goldAwarded        prometheus.Counter
	xpAwarded          prometheus.Counter
	checkoutSessions   *prometheus.CounterVec
	purchasesFulfilled prometheus.Counter
	chatConnections    prometheus.Gauge
	chatMessages       prometheus.Counter

	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.battles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "immortal_battles_total",
		Help: "Battle attempts by result",
	}, []string{"result"})
	m.levelUps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "immortal_level_ups_total",
		Help: "Level ups granted by battles",
	})
	m.goldAwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "immortal_gold_awarded_total",
		Help: "Gold awarded by battles",
	})
	m.xpAwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "immortal_xp_awarded_total",
		Help: "Experience awarded by battles",
	})
	m.checkoutSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "immortal_checkout_sessions_total",
		Help: "Checkout sessions by package and status",
	}, []string{"package", "status"})
	m.purchasesFulfilled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "immortal_purchases_fulfilled_total",
		Help: "Purchases credited to accounts",
	})
	m.chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "immortal_chat_connections",
		Help: "Open chat websocket connections",
	})
	m.chatMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "immortal_chat_messages_total",
		Help: "Chat messages relayed",
	})
	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "immortal_request_duration_seconds",
		Help:    "Request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
	m.requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "immortal_requests_total",
		Help: "Total number of requests",
	}, []string{"method", "endpoint", "status"})

	m.registry.MustRegister(
		m.battles, m.levelUps, m.goldAwarded, m.xpAwarded,
		m.checkoutSessions, m.purchasesFulfilled,
		m.chatConnections, m.chatMessages,
		m.requestDuration, m.requestCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordBattle counts one battle attempt. result is "won", "no_actions" or
// "error"; rewards are only added for won battles.
func (m *Metrics) RecordBattle(result string, gold, xp int64, leveledUp bool) {
	if m == nil {
		return
	}
	m.battles.WithLabelValues(result).Inc()
	if result != "won" {
		return
	}
	m.goldAwarded.Add(float64(gold))
	m.xpAwarded.Add(float64(xp))
	if leveledUp {
		m.levelUps.Inc()
	}
}

func (m *Metrics) RecordCheckout(pkg, status string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(pkg, status).Inc()
}

func (m *Metrics) RecordPurchaseFulfilled() {
	if m == nil {
		return
	}
	m.purchasesFulfilled.Inc()
}

func (m *Metrics) ChatConnected() {
	if m == nil {
		return
	}
	m.chatConnections.Inc()
}

func (m *Metrics) ChatDisconnected() {
	if m == nil {
		return
	}
	m.chatConnections.Dec()
}

func (m *Metrics) ChatMessage() {
	if m == nil {
		return
	}
	m.chatMessages.Inc()
}

// GinMiddleware records request count and latency per route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestDuration.WithLabelValues(c.Request.Method, endpoint, status).Observe(time.Since(start).Seconds())
		m.requestCount.WithLabelValues(c.Request.Method, endpoint, status).Inc()
	}
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// StartServer serves Handler on port and blocks until the server stops.
func (m *Metrics) StartServer(port int) error {
	m.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Printf("metrics: listening on :%d", port)
	err := m.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
