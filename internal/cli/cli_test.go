package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lifehub/essence/internal/app/engine"
	"github.com/lifehub/essence/internal/domain"
)

func TestReadEvents(t *testing.T) {
	in := `{"event_id":"e1","user_id":"u1","source_domain":"todo","event_type":"task_completed","occurred_at":"2026-06-01T09:00:00Z"}

{"user_id":"u2","source_domain":"habits","event_type":"habit_completed","occurred_at":"2026-06-01T09:00:00Z"}
`
	events, err := readEvents(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].EventID != "e1" || events[0].SourceDomain != domain.DomainTodo {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].EventID == "" {
		t.Error("missing event ID should be generated")
	}

	if _, err := readEvents(strings.NewReader("{not json}\n")); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Errorf("readEvents(bad) error = %v, want line 1", err)
	}
}

func TestPayloadValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"2.5", 2.5},
		{"true", true},
		{"2026-06-01T09:00:00Z", "2026-06-01T09:00:00Z"},
	}
	for _, tt := range tests {
		if got := payloadValue(tt.in); got != tt.want {
			t.Errorf("payloadValue(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("essence %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestIngestAndProfile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ESSENCE_HOME", home)
	t.Setenv("ESSENCE_LOG_LEVEL", "error")

	out := run(t, "ingest", "-u", "alice", "-d", "todo", "-t", "task_completed", "--id", "cli-1", "--json")
	var res engine.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result %q: %v", out, err)
	}
	if res.Outcome != engine.OutcomeApplied || res.TotalEssence != 70 {
		t.Errorf("result = %s total %d, want applied 70", res.Outcome, res.TotalEssence)
	}
	if _, err := os.Stat(filepath.Join(home, "essence.db")); err != nil {
		t.Errorf("database not created in home: %v", err)
	}

	out = run(t, "profile", "alice", "--json")
	var prof engine.Profile
	if err := json.Unmarshal([]byte(out), &prof); err != nil {
		t.Fatalf("decode profile %q: %v", out, err)
	}
	if prof.Essence != 70 || prof.Achievements != 1 {
		t.Errorf("profile = %+v", prof)
	}

	out = run(t, "equip", "alice", "emoji_fire")
	if !strings.Contains(out, "equipped Fire Emoji") {
		t.Errorf("equip output = %q", out)
	}
}

func TestConfigInit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ESSENCE_HOME", home)

	out := run(t, "config", "init")
	if !strings.Contains(out, "config.toml") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(home, "config.toml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	out = run(t, "config", "show")
	if !strings.Contains(out, "127.0.0.1:8420") {
		t.Errorf("config show = %q", out)
	}
}
