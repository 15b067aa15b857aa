package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "DIALAJOKE_"

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. An empty path tries ./.env and
// ignores its absence.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides secrets and deployment-specific fields from the
// environment. lookup is os.LookupEnv outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("TELNYX_API_KEY"); ok {
		cfg.Telnyx.APIKey = v
	}
	if v, ok := get("TELNYX_CONNECTION_ID"); ok {
		cfg.Telnyx.ConnectionID = v
	}
	if v, ok := get("TELNYX_PUBLIC_KEY"); ok {
		cfg.Telnyx.WebhookPublicKey = v
	}
	if v, ok := get("SRC_NUMBER"); ok {
		cfg.Telnyx.SrcNumber = v
	}
	if v, ok := get("JOKES_URL"); ok {
		cfg.Jokes.URL = v
	}
	if v, ok := get("TELEGRAM_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("HTTP_ADDR"); ok {
		if host, port, err := net.SplitHostPort(v); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				cfg.HTTP.Host, cfg.HTTP.Port = host, p
			}
		}
	}
}

// Hostname is the short host name reported by /info: SERVER_HOSTNAME if
// set, else the OS host name, cut at the first dot.
func Hostname() string {
	h := strings.TrimSpace(os.Getenv("SERVER_HOSTNAME"))
	if h == "" {
		h, _ = os.Hostname()
	}
	h, _, _ = strings.Cut(h, ".")
	return h
}
