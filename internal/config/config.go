package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	GinMode     string
	DatabaseURL string
	RedisURL    string
	AppURL      string
	CORSOrigins []string
	// TrustedProxies are the proxy IPs/CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
	StaticDir   string
	MetricsPort int

	JWTSecret string
	// JWTSecretGenerated is set when no JWT_SECRET was given and a random
	// per-process secret is used instead.
	JWTSecretGenerated bool
	JWTTTL             time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string

	ActionsMax       int64
	ActionRegenEvery time.Duration

	BattleRatePerSec float64
	BattleRateBurst  int
	AuthRatePerMin   float64

	BotToken    string
	AdminChatID int64
}

func normalizeDatabaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	// Accept `psql 'postgresql://...'` strings copied from provider consoles.
	if i := strings.Index(s, "postgresql://"); i >= 0 {
		s = s[i:]
	} else if i := strings.Index(s, "postgres://"); i >= 0 {
		s = s[i:]
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = strings.Trim(s[:i], `"'`)
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	q := u.Query()
	// pgx does not need channel_binding and may treat it as a runtime param.
	q.Del("channel_binding")
	u.RawQuery = q.Encode()
	return u.String()
}

func envString(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func envInt64(key string, def int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("config: bad %s=%q, using %d", key, val, def)
		return def
	}
	return n
}

func envFloat64(key string, def float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Printf("config: bad %s=%q, using %v", key, val, def)
		return def
	}
	return n
}

// envDuration accepts Go durations ("30s") or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("config: bad %s=%q, using %s", key, val, def)
	return def
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func Load() Config {
	port := int(envInt64("PORT", 3000))
	appURL := strings.TrimRight(envString("APP_URL", ""), "/")
	if appURL == "" {
		appURL = fmt.Sprintf("http://localhost:%d", port)
	}

	cfg := Config{
		Port:           port,
		GinMode:        strings.ToLower(envString("GIN_MODE", "debug")),
		DatabaseURL:    normalizeDatabaseURL(os.Getenv("DATABASE_URL")),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		AppURL:         appURL,
		CORSOrigins:    parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		TrustedProxies: parseCSV(os.Getenv("TRUSTED_PROXIES")),
		StaticDir:      envString("STATIC_DIR", "public"),
		MetricsPort:    int(envInt64("METRICS_PORT", 9090)),

		JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTTTL:    envDuration("JWT_TTL", 0),

		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),

		ActionsMax:       envInt64("ACTIONS_MAX", 6000),
		ActionRegenEvery: envDuration("ACTION_REGEN_EVERY", 30*time.Second),

		BattleRatePerSec: envFloat64("BATTLE_RATE_PER_SEC", 5),
		BattleRateBurst:  int(envInt64("BATTLE_RATE_BURST", 10)),
		AuthRatePerMin:   envFloat64("AUTH_RATE_PER_MIN", 30),

		BotToken:    strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		AdminChatID: envInt64("ADMIN_CHAT_ID", 0),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		cfg.JWTSecretGenerated = true
		log.Printf("config: JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	return cfg
}

func (c Config) Release() bool { return c.GinMode == "release" }

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be 1..65535, got %d", c.Port))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("METRICS_PORT must be 0..65535, got %d", c.MetricsPort))
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		errs = append(errs, errors.New("METRICS_PORT must differ from PORT"))
	}
	if c.Release() && c.JWTSecretGenerated {
		errs = append(errs, errors.New("JWT_SECRET is required when GIN_MODE=release"))
	}
	if c.JWTTTL < 0 {
		errs = append(errs, errors.New("JWT_TTL must be >= 0"))
	}
	if c.ActionsMax < 0 {
		errs = append(errs, errors.New("ACTIONS_MAX must be >= 0"))
	}
	if c.ActionRegenEvery < 0 {
		errs = append(errs, errors.New("ACTION_REGEN_EVERY must be >= 0"))
	}
	if c.BattleRatePerSec < 0 || c.AuthRatePerMin < 0 || c.BattleRateBurst < 0 {
		errs = append(errs, errors.New("rate limits must be >= 0"))
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if (c.BotToken == "") != (c.AdminChatID == 0) {
		errs = append(errs, errors.New("BOT_TOKEN and ADMIN_CHAT_ID must be set together"))
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p))
			}
		}
	}
	if _, err := url.ParseRequestURI(c.AppURL); err != nil {
		errs = append(errs, fmt.Errorf("APP_URL: %w", err))
	}
	return errors.Join(errs...)
}

func parseCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
