package logger

import (
	"strings"
	"testing"
)

func TestSanitize_HashesUserIDs(t *testing.T) {
	l := &Logger{hashIDs: true, salt: "pepper"}
	out := l.sanitize([]any{"user_id", "alice", "event_id", "e1"})

	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	hashed, ok := out[1].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") || strings.Contains(hashed, "alice") {
		t.Errorf("user_id = %v, want hashed value", out[1])
	}
	if out[3] != "e1" {
		t.Errorf("event_id = %v, want untouched", out[3])
	}
}

func TestSanitize_StableHash(t *testing.T) {
	l := &Logger{hashIDs: true}
	a := l.sanitize([]any{"user_id", "bob"})[1]
	b := l.sanitize([]any{"user_id", "bob"})[1]
	if a != b {
		t.Errorf("hash not stable: %v vs %v", a, b)
	}
}

func TestSanitize_Disabled(t *testing.T) {
	l := &Logger{}
	out := l.sanitize([]any{"user_id", "alice"})
	if out[1] != "alice" {
		t.Errorf("user_id = %v, want raw value when hashing is off", out[1])
	}
}

func TestSanitize_OddKeyCount(t *testing.T) {
	l := &Logger{hashIDs: true}
	out := l.sanitize([]any{"user_id", "alice", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Errorf("out = %v", out)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("development", Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_ProductionForcesHashing(t *testing.T) {
	l, err := New("production", Options{Level: "error"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.hashIDs {
		t.Error("production logger should hash identifiers")
	}
	l.With("component", "test").Info("ok", "user_id", "x")
}
