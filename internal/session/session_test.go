package session

import (
	"testing"
	"time"
)

func TestPromptFlow(t *testing.T) {
	m := NewManager(time.Minute)

	if state, _ := m.Get("alice"); state != Idle {
		t.Fatalf("fresh caller state = %s", state)
	}

	m.AwaitTaskDescription("alice")
	if state, _ := m.Get("alice"); state != AwaitingTaskDescription {
		t.Fatalf("state = %s", state)
	}

	m.AwaitComment("alice", 42)
	state, taskID := m.Get("alice")
	if state != AwaitingComment || taskID != 42 {
		t.Fatalf("state = %s taskID = %d", state, taskID)
	}

	m.Clear("alice")
	if state, _ := m.Get("alice"); state != Idle {
		t.Fatalf("state after clear = %s", state)
	}
}

func TestCallersAreIsolated(t *testing.T) {
	m := NewManager(time.Minute)
	m.AwaitTaskDescription("alice")
	if state, _ := m.Get("bob"); state != Idle {
		t.Fatalf("bob inherited alice's state: %s", state)
	}
}

func TestExpiry(t *testing.T) {
	m := NewManager(time.Minute)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.AwaitComment("alice", 7)
	if state, _ := m.Get("alice"); state != AwaitingComment {
		t.Fatalf("state = %s", state)
	}

	now = now.Add(61 * time.Second)
	if state, _ := m.Get("alice"); state != Idle {
		t.Fatalf("expired prompt still pending: %s", state)
	}
	// expired entry is dropped, not revived
	now = now.Add(-time.Hour)
	if state, _ := m.Get("alice"); state != Idle {
		t.Fatalf("expired prompt revived: %s", state)
	}
}
