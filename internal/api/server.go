package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Oat2Milk/immortal-legacy/internal/auth"
	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/leaderboard"
	"github.com/Oat2Milk/immortal-legacy/internal/monitoring"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
	"github.com/Oat2Milk/immortal-legacy/internal/security"
)

const Version = "1.0.0"

// Server holds the dependencies shared by the HTTP handlers.
type Server struct {
	Accounts    game.Store
	Engine      *game.Engine
	Tokens      *auth.Tokens
	Payments    *payments.Service
	Leaderboard leaderboard.Source
	Chat        http.Handler
	Metrics     *monitoring.Metrics

	BattleLimiter *security.KeyedLimiter
	AuthLimiter   *security.KeyedLimiter

	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty means the peer address is the client.
	TrustedProxies []string

	StaticDir string
	Errors    *ErrorHandler
	Now       func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	if s.Errors == nil {
		s.Errors = NewErrorHandler(log.Default())
	}

	router := gin.New()
	if err := router.SetTrustedProxies(s.TrustedProxies); err != nil {
		log.Printf("api: invalid trusted proxies %v: %v; trusting none", s.TrustedProxies, err)
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Logger())
	router.Use(s.Errors.Recovery())
	router.Use(s.Metrics.GinMiddleware())

	api := router.Group("/api")
	setupAuthRoutes(api, s)
	setupUserRoutes(api, s)
	setupGameRoutes(api, s)
	setupPaymentRoutes(api, s)
	api.GET("/leaderboard", leaderboardHandler(s))

	router.GET("/health", healthHandler(s))
	if s.Chat != nil {
		router.GET("/ws", gin.WrapH(s.Chat))
	}
	router.NoRoute(fallbackHandler(s))
	return router
}

// Handler wraps the router with request ids and CORS. Client addresses are
// resolved by gin against TrustedProxies only.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Handle("/*", s.Router())
	return r
}

func setupAuthRoutes(router *gin.RouterGroup, s *Server) {
	limit := s.AuthLimiter.Middleware(security.ClientIP)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", limit, registerHandler(s))
		authGroup.POST("/login", limit, loginHandler(s))
	}
}

func setupUserRoutes(router *gin.RouterGroup, s *Server) {
	users := router.Group("/user", auth.Middleware(s.Tokens, s.Accounts))
	{
		users.GET("/profile", profileHandler(s))
	}
}

func setupGameRoutes(router *gin.RouterGroup, s *Server) {
	games := router.Group("/game", auth.Middleware(s.Tokens, s.Accounts))
	{
		games.POST("/battle", s.BattleLimiter.Middleware(accountKey), battleHandler(s))
	}
}

func setupPaymentRoutes(router *gin.RouterGroup, s *Server) {
	pay := router.Group("/payment")
	{
		pay.POST("/create-checkout", auth.Middleware(s.Tokens, s.Accounts), checkoutHandler(s))
		pay.POST("/webhook", webhookHandler(s))
		pay.GET("/packages", packagesHandler(s))
	}
}

func accountKey(c *gin.Context) string {
	acc, ok := auth.Account(c)
	if !ok {
		return ""
	}
	return acc.ID.String()
}

func healthHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": s.now().Format(time.RFC3339),
			"version":   Version,
		})
	}
}
