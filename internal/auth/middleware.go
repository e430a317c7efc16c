package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oat2Milk/immortal-legacy/internal/game"
)

const accountKey = "account"

// Middleware resolves the bearer token to a stored account and aborts with
// 401 when either step fails.
func Middleware(tokens *Tokens, store game.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}
		id, err := tokens.Verify(raw)
		if err != nil {
			unauthorized(c)
			return
		}
		acc, err := store.GetAccount(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, game.ErrAccountNotFound) {
				unauthorized(c)
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Set(accountKey, acc)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Please authenticate"})
}

// Account returns the account loaded by Middleware.
func Account(c *gin.Context) (game.Account, bool) {
	v, ok := c.Get(accountKey)
	if !ok {
		return game.Account{}, false
	}
	acc, ok := v.(game.Account)
	return acc, ok
}
