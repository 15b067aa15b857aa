package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "dialajoke/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "data", "dialajoke.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseStore(t, st)
		})
	}
}

func exerciseStore(t *testing.T, st Store) {
	ctx := context.Background()
	base := time.Now().Add(-48 * time.Hour).Truncate(time.Millisecond)

	records := []CallRecord{
		{At: base, CallID: "c1", To: "+15550100", Event: "call.dialed", CallControlID: "v3:a"},
		{At: base.Add(time.Hour), CallID: "c1", Event: "call.hangup"},
		{At: base.Add(47 * time.Hour), CallID: "c2", To: "+15550101", Event: "call.dial_failed", Error: "422 invalid number", TookMS: 120},
	}
	for _, r := range records {
		if err := st.AppendCall(ctx, r); err != nil {
			t.Fatalf("AppendCall: %v", err)
		}
	}

	recent, err := st.RecentCalls(ctx, 2)
	if err != nil {
		t.Fatalf("RecentCalls: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentCalls len = %d, want 2", len(recent))
	}
	if recent[0].CallID != "c2" || recent[0].Error != "422 invalid number" || recent[0].TookMS != 120 {
		t.Fatalf("RecentCalls[0] = %+v", recent[0])
	}
	if !recent[0].At.Equal(records[2].At) {
		t.Fatalf("RecentCalls[0].At = %v, want %v", recent[0].At, records[2].At)
	}
	if recent[1].Event != "call.hangup" {
		t.Fatalf("RecentCalls[1].Event = %q, want call.hangup", recent[1].Event)
	}

	n, err := st.PruneCalls(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneCalls: %v", err)
	}
	if n != 2 {
		t.Fatalf("PruneCalls = %d, want 2", n)
	}
	left, _ := st.RecentCalls(ctx, 10)
	if len(left) != 1 || left[0].CallID != "c2" {
		t.Fatalf("after prune = %+v", left)
	}
	if err := st.AppendCall(ctx, CallRecord{CallID: "c3", Event: "call.dialed"}); err != nil {
		t.Fatalf("AppendCall after prune: %v", err)
	}

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "evt-1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "evt-1")
	if err != nil || !ok || !got.Equal(until) {
		t.Fatalf("GetDedup = %v, %v, %v; want %v, true, nil", got, ok, err, until)
	}
	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("GetDedup(missing) ok = true")
	}
}

func TestFileDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	_ = st.PutDedup(ctx, "live", until)
	_ = st.PutDedup(ctx, "expired", time.Now().Add(-time.Hour))
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if got, ok, _ := st.GetDedup(ctx, "live"); !ok || !got.Equal(until) {
		t.Fatalf("GetDedup(live) = %v, %v", got, ok)
	}
	if _, ok, _ := st.GetDedup(ctx, "expired"); ok {
		t.Fatal("expired key survived reopen")
	}
}
