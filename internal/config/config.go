package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir      string
	LogLevel    string
	DatabaseURL string // empty: memory; postgres://...; sqlite://path or file:...

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	OwnerAPIKeys   map[string]string // owner -> key (plain or bcrypt hash)
	AllowedOrigins []string

	PublicRPM   int
	PublicBurst int
	AdminRPM    int
	AdminBurst  int

	DispatchInterval     time.Duration // 0 disables the background runner
	StaleCutoff          time.Duration
	ProbeTimeout         time.Duration
	MaxConcurrentDomains int
	StatusWindow         time.Duration
	TimelinePageSize     int
	MaxBodyBytes         int64

	SlackWebhookURL string
	AlertOnRecovery bool
	AlertCooldown   time.Duration
	AlertPoll       time.Duration // 0 disables the alerter
}

func FromEnv() Config {
	// Bind address (Windows-friendly default)
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = os.Getenv("API_ADDR")
	}
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	return Config{
		Addr:        addr,
		LogDir:      str("LOG_DIR", "logs"),
		LogLevel:    str("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		PublicAPIKeys:  csv("PUBLIC_API_KEYS"),
		AdminAPIKeys:   csv("ADMIN_API_KEYS"),
		OwnerAPIKeys:   ownerKeys(os.Getenv("OWNER_API_KEYS")),
		AllowedOrigins: csv("ALLOWED_ORIGINS"),

		PublicRPM:   num("PUBLIC_RPM", 120),
		PublicBurst: num("PUBLIC_BURST", 60),
		AdminRPM:    num("ADMIN_RPM", 60),
		AdminBurst:  num("ADMIN_BURST", 30),

		DispatchInterval:     millis("DISPATCH_INTERVAL_MS", 5*time.Minute),
		StaleCutoff:          time.Duration(num("STALE_MINUTES", 10)) * time.Minute,
		ProbeTimeout:         millis("PROBE_TIMEOUT_MS", 10*time.Second),
		MaxConcurrentDomains: num("MAX_CONCURRENT_DOMAINS", 8),
		StatusWindow:         time.Duration(num("STATUS_WINDOW_MINUTES", 60)) * time.Minute,
		TimelinePageSize:     positive("TIMELINE_PAGE_SIZE", 100),
		MaxBodyBytes:         int64(positive("MAX_BODY_BYTES", 1<<20)),

		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		AlertOnRecovery: flag("ALERT_ON_RECOVERY"),
		AlertCooldown:   millis("ALERT_COOLDOWN_MS", 15*time.Minute),
		AlertPoll:       millis("ALERT_POLL_MS", time.Minute),
	}
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// num reads a non-negative integer; anything else yields def.
func num(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func positive(key string, def int) int {
	if n := num(key, def); n > 0 {
		return n
	}
	return def
}

func millis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func flag(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && b
}

func csv(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ownerKeys parses "alice:key1,bob:key2". Entries without an owner are dropped.
func ownerKeys(raw string) map[string]string {
	out := make(map[string]string)
	for _, p := range strings.Split(raw, ",") {
		owner, key, ok := strings.Cut(strings.TrimSpace(p), ":")
		owner, key = strings.TrimSpace(owner), strings.TrimSpace(key)
		if !ok || owner == "" || key == "" {
			continue
		}
		out[owner] = key
	}
	return out
}
