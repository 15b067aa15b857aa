package telephony

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	logx "dialajoke/pkg/logx"
)

func TestDialSendsRequest(t *testing.T) {
	t.Parallel()

	var (
		gotAuth string
		gotPath string
		gotBody DialRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"call_control_id":"v3:abc","call_leg_id":"leg-1"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "KEY", BaseURL: srv.URL + "/v2/"}, srv.Client(), logx.Nop())
	call, err := c.Dial(context.Background(), DialRequest{ConnectionID: "42", To: "+15551234567", From: "+15550001111"})
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	if call.CallControlID != "v3:abc" {
		t.Fatalf("CallControlID = %q, want v3:abc", call.CallControlID)
	}
	if gotAuth != "Bearer KEY" {
		t.Fatalf("Authorization = %q, want Bearer KEY", gotAuth)
	}
	if gotPath != "/v2/calls" {
		t.Fatalf("path = %q, want /v2/calls", gotPath)
	}
	if gotBody != (DialRequest{ConnectionID: "42", To: "+15551234567", From: "+15550001111"}) {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestSpeakAndHangupPaths(t *testing.T) {
	t.Parallel()

	var paths []string
	var speak SpeakRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		if strings.HasSuffix(r.URL.Path, "/speak") {
			_ = json.NewDecoder(r.Body).Decode(&speak)
		}
		_, _ = w.Write([]byte(`{"data":{"result":"ok"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "KEY", BaseURL: srv.URL}, srv.Client(), logx.Nop())
	ctx := context.Background()
	if err := c.Speak(ctx, "v3:a/b", SpeakRequest{Payload: "knock knock"}); err != nil {
		t.Fatalf("Speak error = %v", err)
	}
	if err := c.Hangup(ctx, "v3:a/b"); err != nil {
		t.Fatalf("Hangup error = %v", err)
	}

	want := []string{"/calls/v3:a%2Fb/actions/speak", "/calls/v3:a%2Fb/actions/hangup"}
	if strings.Join(paths, " ") != strings.Join(want, " ") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	if speak.Voice != DefaultVoice || speak.Language != DefaultLanguage || speak.Payload != "knock knock" {
		t.Fatalf("speak body = %+v", speak)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		retryAfter    string
		body          string
		wantCode      string
		wantTemporary bool
		wantRetry     time.Duration
	}{
		{name: "validation", status: 422, body: `{"errors":[{"code":"10015","title":"Invalid phone number","detail":"to is invalid"}]}`, wantCode: "10015"},
		{name: "rate limited", status: 429, retryAfter: "3", body: `{"errors":[{"code":"10011","title":"Too many requests"}]}`, wantCode: "10011", wantTemporary: true, wantRetry: 3 * time.Second},
		{name: "server error no body", status: 503, wantTemporary: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{APIKey: "KEY", BaseURL: srv.URL}, srv.Client(), logx.Nop())
			err := c.Hangup(context.Background(), "id")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Hangup error = %v, want *APIError", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != tt.wantCode {
				t.Fatalf("APIError = %+v, want status %d code %q", apiErr, tt.status, tt.wantCode)
			}
			if apiErr.Temporary() != tt.wantTemporary {
				t.Fatalf("Temporary() = %v, want %v", apiErr.Temporary(), tt.wantTemporary)
			}
			if apiErr.RetryAfter != tt.wantRetry {
				t.Fatalf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.wantRetry)
			}
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Parallel()

	c := New(Config{}, nil, logx.Nop())
	if _, err := c.Dial(context.Background(), DialRequest{To: "+1"}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("Dial error = %v, want ErrNoAPIKey", err)
	}
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	body := `{"data":{"id":"evt-1","event_type":"call.answered","occurred_at":"2024-01-02T03:04:05Z",
		"payload":{"call_control_id":"v3:abc","to":"+15551234567","from":"+15550001111"}}}`
	ev, err := ParseEvent(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseEvent error = %v", err)
	}
	if ev.ID != "evt-1" || ev.Type != EventCallAnswered || ev.CallControlID != "v3:abc" {
		t.Fatalf("event = %+v", ev)
	}

	bad := []string{
		`not json`,
		`{"data":{"payload":{"call_control_id":"x"}}}`,
		`{"data":{"event_type":"call.answered","payload":{}}}`,
	}
	for _, b := range bad {
		if _, err := ParseEvent(strings.NewReader(b)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("ParseEvent(%q) error = %v, want ErrInvalidEvent", b, err)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	parsed, err := ParsePublicKey(base64.StdEncoding.EncodeToString(pub))
	if err != nil {
		t.Fatalf("ParsePublicKey error = %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"data":{}}`)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(ts+"|"+string(body))))

	if err := VerifySignature(parsed, body, sig, ts, 0, now); err != nil {
		t.Fatalf("VerifySignature error = %v", err)
	}
	if err := VerifySignature(parsed, []byte(`{"data":{"x":1}}`), sig, ts, 0, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered body error = %v, want ErrBadSignature", err)
	}
	if err := VerifySignature(parsed, body, sig, ts, time.Minute, now.Add(2*time.Minute)); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("stale error = %v, want ErrStaleTimestamp", err)
	}
	if err := VerifySignature(parsed, body, "!!", ts, 0, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("garbage signature error = %v, want ErrBadSignature", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-2", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
