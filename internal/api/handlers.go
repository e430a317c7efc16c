package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Oat2Milk/immortal-legacy/internal/auth"
	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
)

const maxWebhookBody = 256 << 10

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type checkoutRequest struct {
	PackageID string `json:"packageId"`
}

func registerHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.Errors.Abort(c, badRequest("Invalid request body"))
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Email = game.NormalizeEmail(req.Email)
		if req.Username == "" || req.Email == "" || req.Password == "" {
			s.Errors.Abort(c, badRequest("Username, email and password are required"))
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		acc, err := s.Accounts.CreateAccount(c.Request.Context(), game.NewAccount(req.Username, req.Email, hash, s.now()))
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		token, err := s.Tokens.Issue(acc.ID)
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user":  gin.H{"username": acc.Username, "level": acc.Level},
		})
	}
}

func loginHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.Errors.Abort(c, badRequest("Invalid request body"))
			return
		}
		acc, err := s.Accounts.GetAccountByEmail(c.Request.Context(), req.Email)
		if errors.Is(err, game.ErrAccountNotFound) {
			s.Errors.Abort(c, auth.ErrInvalidCredentials)
			return
		}
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		if !auth.VerifyPassword(req.Password, acc.PasswordHash) {
			s.Errors.Abort(c, auth.ErrInvalidCredentials)
			return
		}
		token, err := s.Tokens.Issue(acc.ID)
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": s.withRegen(acc)})
	}
}

// withRegen shows the action balance as it would be after lazy regeneration.
func (s *Server) withRegen(acc game.Account) game.Account {
	if s.Engine != nil {
		s.Engine.Regen.Apply(&acc, s.now())
	}
	return acc
}

func profileHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := auth.Account(c)
		if !ok {
			s.Errors.Abort(c, auth.ErrInvalidToken)
			return
		}
		c.JSON(http.StatusOK, s.withRegen(acc))
	}
}

func battleHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := auth.Account(c)
		if !ok {
			s.Errors.Abort(c, auth.ErrInvalidToken)
			return
		}
		out, err := s.Engine.Battle(c.Request.Context(), acc.ID)
		switch {
		case errors.Is(err, game.ErrInsufficientActions):
			s.Metrics.RecordBattle("no_actions", 0, 0, false)
			s.Errors.Abort(c, err)
			return
		case err != nil:
			s.Metrics.RecordBattle("error", 0, 0, false)
			s.Errors.Abort(c, err)
			return
		}
		s.Metrics.RecordBattle("won", out.GoldReward, out.XPReward, out.LeveledUp)
		c.JSON(http.StatusOK, out)
	}
}

func checkoutHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := auth.Account(c)
		if !ok {
			s.Errors.Abort(c, auth.ErrInvalidToken)
			return
		}
		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.Errors.Abort(c, badRequest("Invalid request body"))
			return
		}
		if s.Payments == nil {
			s.Errors.Abort(c, payments.ErrNotConfigured)
			return
		}
		sessionID, err := s.Payments.CreateCheckout(c.Request.Context(), acc.ID, req.PackageID)
		if err != nil {
			status := "error"
			if errors.Is(err, payments.ErrInvalidPackage) {
				status = "invalid"
			}
			s.Metrics.RecordCheckout(req.PackageID, status)
			s.Errors.Abort(c, err)
			return
		}
		s.Metrics.RecordCheckout(req.PackageID, "created")
		c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
	}
}

func webhookHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Payments == nil {
			s.Errors.Abort(c, payments.ErrNotConfigured)
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
				return
			}
			s.Errors.Abort(c, badRequest("Invalid request body"))
			return
		}
		res, err := s.Payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		if res.Credited {
			s.Metrics.RecordPurchaseFulfilled()
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func packagesHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, payments.Catalog())
	}
}

func leaderboardHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.Errors.Abort(c, badRequest("limit must be a number"))
				return
			}
			limit = n
		}
		entries, err := s.Leaderboard.Top(c.Request.Context(), limit)
		if err != nil {
			s.Errors.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}
