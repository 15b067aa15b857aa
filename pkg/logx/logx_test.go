package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{got: make(chan struct{}, 16)}
}

func (r *recordingSender) SendLog(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "debug", want: zerolog.DebugLevel},
		{in: " WARNING ", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "", want: zerolog.InfoLevel},
		{in: "loud", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(String("comp", "x")).IsZero() {
		t.Fatal("derived logger with fields should not be zero")
	}
}

func TestFormatRemote(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"2024-01-01T00:00:00Z","message":"dial failed","to":"+15550100","caller":"x.go:1"}`)
	got := formatRemote(line)
	want := "[WARN] dial failed\n- caller=x.go:1\n- to=+15550100"
	if got != want {
		t.Fatalf("formatRemote = %q, want %q", got, want)
	}

	raw := formatRemote([]byte("not json\n"))
	if raw != "not json" {
		t.Fatalf("formatRemote(raw) = %q, want %q", raw, "not json")
	}
}

func TestRemoteSinkRespectsMinLevel(t *testing.T) {
	sender := newRecordingSender()
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("quiet")
	log.Warn("loud", String("number", "+15550100"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("remote sink did not receive warning")
	}

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("remote messages = %d, want 1 (%v)", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "[WARN] loud") || !strings.Contains(msgs[0], "- number=+15550100") {
		t.Fatalf("unexpected remote message: %q", msgs[0])
	}
}
