package session

import (
	"sync"
	"time"
)

// State names what a conversation is waiting for.
type State string

const (
	Idle                    State = "idle"
	AwaitingTaskDescription State = "awaiting_task_description"
	AwaitingComment         State = "awaiting_comment"
)

type entry struct {
	state   State
	taskID  int64
	expires time.Time
}

// Manager tracks per-caller conversational state with a fixed TTL.
// Expired entries fall back to Idle on read.
type Manager struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:     ttl,
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// Get returns the caller's pending state and, for comment prompts, the
// target task id.
func (m *Manager) Get(caller string) (State, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[caller]
	if !ok {
		return Idle, 0
	}
	if m.now().After(e.expires) {
		delete(m.entries, caller)
		return Idle, 0
	}
	return e.state, e.taskID
}

// AwaitTaskDescription marks the caller's next free-text message as a
// task description.
func (m *Manager) AwaitTaskDescription(caller string) {
	m.set(caller, entry{state: AwaitingTaskDescription})
}

// AwaitComment marks the caller's next free-text message as a comment on
// the given task.
func (m *Manager) AwaitComment(caller string, taskID int64) {
	m.set(caller, entry{state: AwaitingComment, taskID: taskID})
}

func (m *Manager) set(caller string, e entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.expires = m.now().Add(m.ttl)
	m.entries[caller] = e
}

// Clear drops any pending state for the caller.
func (m *Manager) Clear(caller string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, caller)
}
