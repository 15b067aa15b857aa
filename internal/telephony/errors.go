package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoAPIKey       = errors.New("telephony: api key not configured")
	ErrInvalidEvent   = errors.New("telephony: invalid webhook event")
	ErrBadSignature   = errors.New("telephony: webhook signature mismatch")
	ErrStaleTimestamp = errors.New("telephony: webhook timestamp outside tolerance")
)

// APIError is a non-2xx response from the Telnyx API. Code, Title and
// Detail come from the first entry of the "errors" array when present.
type APIError struct {
	Status     int
	Code       string
	Title      string
	Detail     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "telnyx: http %d", e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Title != "" {
		b.WriteString(": ")
		b.WriteString(e.Title)
	}
	if e.Detail != "" && e.Detail != e.Title {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0
		}
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
