package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/memstore"
)

func TestTokenRoundTrip(t *testing.T) {
	tk := NewTokens("secret", 0)
	id := uuid.New()
	s, err := tk.Issue(id)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tk.Verify(s)
	if err != nil || got != id {
		t.Fatalf("Verify = %v, %v", got, err)
	}

	if _, err := NewTokens("other", 0).Verify(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v", err)
	}
	if _, err := tk.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	tk := NewTokens("secret", time.Hour)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tk.now = func() time.Time { return issued }
	s, err := tk.Issue(uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	tk.now = func() time.Time { return issued.Add(30 * time.Minute) }
	if _, err := tk.Verify(s); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	tk.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, err := tk.Verify(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err = %v", err)
	}
}

func TestVerifyRejectsNoneAlg(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": uuid.NewString()})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokens("secret", 0).Verify(s); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("none alg err = %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if h == "hunter22" || !VerifyPassword("hunter22", h) || VerifyPassword("hunter23", h) {
		t.Fatal("password hash mismatch")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for in, want := range cases {
		got, ok := BearerToken(in)
		if got != want || ok != (want != "") {
			t.Errorf("BearerToken(%q) = %q, %v", in, got, ok)
		}
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	acc, _ := st.CreateAccount(context.Background(), game.NewAccount("mw", "mw@example.com", "h", time.Now()))
	tk := NewTokens("secret", 0)

	r := gin.New()
	r.GET("/me", Middleware(tk, st), func(c *gin.Context) {
		a, _ := Account(c)
		c.String(http.StatusOK, a.Username)
	})

	good, _ := tk.Issue(acc.ID)
	ghost, _ := tk.Issue(uuid.New())
	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + good, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"tampered", "Bearer " + good + "x", http.StatusUnauthorized},
		{"deleted account", "Bearer " + ghost, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tc.code, w.Body.String())
			}
			if tc.code == http.StatusUnauthorized && w.Body.String() != `{"error":"Please authenticate"}` {
				t.Fatalf("body = %s", w.Body.String())
			}
			if tc.code == http.StatusOK && w.Body.String() != "mw" {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}
