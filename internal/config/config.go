package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode Mode

	// Hosted platform API (client side).
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// Attempt-session policy.
	AutoSaveDelay time.Duration
	MaxViolations int

	// Practice server (offline backend).
	HTTPAddr    string
	AuthSecret  string
	CORSOrigins []string

	DBDriver string
	DBDSN    string

	// Local audit event log. Empty disables it.
	EventLogDSN string
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:          mode,
		APIBaseURL:    envOr("CK_API_BASE_URL", "https://codeknight.app/api"),
		APIToken:      os.Getenv("CK_API_TOKEN"),
		APITimeout:    envDuration("CK_API_TIMEOUT", 30*time.Second),
		AutoSaveDelay: envDuration("CK_AUTOSAVE_DELAY", time.Second),
		MaxViolations: envInt("CK_MAX_VIOLATIONS", 3),
		HTTPAddr:      envOr("HTTP_ADDR", ":8080"),
		AuthSecret:    envOr("AUTH_HMAC_SECRET", "practice-dev-key"),
		CORSOrigins:   csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:8081"),
		DBDriver:      envOr("DB_DRIVER", "sqlite"),
		DBDSN:         envOr("DB_DSN", ""),
		EventLogDSN:   envOr("EVENT_LOG_DSN", "file:codeknight-audit.db?cache=shared&mode=rwc"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
