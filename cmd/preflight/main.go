// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	owners := strings.TrimSpace(os.Getenv("OWNER_API_KEYS"))
	apiAddr := strings.TrimSpace(os.Getenv("ADDR"))
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	allowed := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (dispatch route will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (public status and timeline will 401).")
	}
	if owners == "" {
		warn("OWNER_API_KEYS is empty; only admin keys can manage domains.")
	} else {
		for _, entry := range strings.Split(owners, ",") {
			owner, key, found := strings.Cut(strings.TrimSpace(entry), ":")
			if !found || strings.TrimSpace(owner) == "" || strings.TrimSpace(key) == "" {
				fail("OWNER_API_KEYS entry " + strconv.Quote(entry) + " is not owner:key")
			}
		}
		ok("OWNER_API_KEYS parsed")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub, "OWNER_API_KEYS": owners} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if apiAddr == "" {
		warn("ADDR is empty; the API will bind 127.0.0.1:8080 unless API_ADDR is set.")
	} else {
		ok("ADDR=" + apiAddr)
	}

	switch {
	case db == "":
		warn("DATABASE_URL empty: results live in memory and are lost on restart.")
	case strings.HasPrefix(db, "postgres://"), strings.HasPrefix(db, "postgresql://"):
		ok("DATABASE_URL selects postgres")
	case strings.HasPrefix(db, "sqlite://"), strings.HasPrefix(db, "file:"):
		ok("DATABASE_URL selects sqlite")
	default:
		fail("DATABASE_URL has an unsupported scheme (want postgres://, sqlite:// or file:).")
	}

	for _, name := range []string{"DISPATCH_INTERVAL_MS", "STALE_MINUTES", "PROBE_TIMEOUT_MS", "MAX_CONCURRENT_DOMAINS",
		"STATUS_WINDOW_MINUTES", "TIMELINE_PAGE_SIZE", "ALERT_COOLDOWN_MS", "ALERT_POLL_MS"} {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err != nil || n < 0 {
			warn(name + "=" + v + " is not a non-negative integer; the default will be used.")
		}
	}
	if v := os.Getenv("DISPATCH_INTERVAL_MS"); strings.TrimSpace(v) == "0" {
		warn("DISPATCH_INTERVAL_MS=0 disables background probing; run cmd/checkdomains from cron instead.")
	}

	if allowed == "" {
		warn("ALLOWED_ORIGINS empty: CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + allowed)
	}

	if os.Getenv("SLACK_WEBHOOK_URL") == "" {
		warn("SLACK_WEBHOOK_URL empty: status alerts only go to the log.")
	} else {
		ok("SLACK_WEBHOOK_URL present")
	}

	ok("preflight passed")
}
