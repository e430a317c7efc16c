package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Oat2Milk/immortal-legacy/internal/auth"
	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
)

// ErrorCode classifies API errors for logs.
type ErrorCode string

const (
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeDuplicateEntry     ErrorCode = "DUPLICATE_ENTRY"
	ErrCodeActionsDepleted    ErrorCode = "ACTIONS_DEPLETED"
	ErrCodeInvalidPackage     ErrorCode = "INVALID_PACKAGE"
	ErrCodeBadSignature       ErrorCode = "BAD_SIGNATURE"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// requestError is a 400 carrying a message meant for the client.
type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

type classified struct {
	Code    ErrorCode
	Status  int
	Message string
}

func classifyError(err error) classified {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr):
		return classified{ErrCodeInvalidRequest, http.StatusBadRequest, reqErr.msg}
	case errors.Is(err, game.ErrInsufficientActions):
		return classified{ErrCodeActionsDepleted, http.StatusBadRequest, "No actions remaining"}
	case errors.Is(err, game.ErrAccountExists):
		return classified{ErrCodeDuplicateEntry, http.StatusBadRequest, "User already exists"}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return classified{ErrCodeUnauthorized, http.StatusBadRequest, "Invalid credentials"}
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, game.ErrAccountNotFound):
		return classified{ErrCodeUnauthorized, http.StatusUnauthorized, "Please authenticate"}
	case errors.Is(err, payments.ErrInvalidPackage):
		return classified{ErrCodeInvalidPackage, http.StatusBadRequest, "Invalid package"}
	case errors.Is(err, payments.ErrBadSignature):
		return classified{ErrCodeBadSignature, http.StatusBadRequest, "Invalid signature"}
	case errors.Is(err, payments.ErrNotConfigured):
		return classified{ErrCodeServiceUnavailable, http.StatusServiceUnavailable, "Payments are not configured"}
	default:
		return classified{ErrCodeInternalError, http.StatusInternalServerError, err.Error()}
	}
}

// ErrorHandler turns handler errors into `{"error": "..."}` responses and
// logs server errors as one JSON object per line.
type ErrorHandler struct {
	logger *log.Logger
}

func NewErrorHandler(logger *log.Logger) *ErrorHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ErrorHandler{logger: logger}
}

func (eh *ErrorHandler) Abort(c *gin.Context, err error) {
	ce := classifyError(err)
	if ce.Status >= 500 {
		eh.logError(c, ce, err, "")
	}
	c.AbortWithStatusJSON(ce.Status, gin.H{"error": ce.Message})
}

func (eh *ErrorHandler) logError(c *gin.Context, ce classified, err error, stack string) {
	entry := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"status":     ce.Status,
		"error_code": ce.Code,
		"message":    err.Error(),
		"ip":         c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
		"request_id": middleware.GetReqID(c.Request.Context()),
	}
	if stack != "" {
		entry["stack_trace"] = stack
	}
	b, _ := json.Marshal(entry)
	eh.logger.Printf("ERROR: %s", b)
}

// Recovery converts panics into a logged 500.
func (eh *ErrorHandler) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)
				ce := classified{ErrCodeInternalError, http.StatusInternalServerError, "Internal server error"}
				eh.logError(c, ce, err, getStackTrace())
				c.AbortWithStatusJSON(ce.Status, gin.H{"error": ce.Message})
			}
		}()
		c.Next()
	}
}

func getStackTrace() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}
