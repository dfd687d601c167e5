package timer

import (
	"sync"
	"time"

	"github.com/dialverse/call-gateway/pkg/logger"
	"go.uber.org/zap"
)

// Manager owns the cancellable auto-hangup timers, keyed by call id.
//
// Cancellation is advisory: a timer that has already popped may still run its
// action concurrently with Cancel. The action itself must therefore re-check
// the call's live state before acting, which also covers the case where the
// call ended through another path entirely.
type Manager struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	after func(time.Duration, func()) *time.Timer
}

// NewManager creates an empty timer manager.
func NewManager() *Manager {
	return &Manager{
		timers: make(map[string]*time.Timer),
		after:  time.AfterFunc,
	}
}

// SetAfter overrides the timer primitive, for tests.
func (m *Manager) SetAfter(after func(time.Duration, func()) *time.Timer) {
	m.after = after
}

// Schedule arms a timer for a call, replacing any existing one. When it pops
// the action runs on the timer goroutine.
func (m *Manager) Schedule(callID string, delay time.Duration, action func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.timers[callID]; ok {
		prev.Stop()
	}

	m.timers[callID] = m.after(delay, func() {
		m.mu.Lock()
		delete(m.timers, callID)
		m.mu.Unlock()
		action()
	})

	logger.Base().Debug("Auto-hangup timer scheduled",
		zap.String("call_id", callID),
		zap.Duration("delay", delay),
	)
}

// Cancel disarms the timer for a call. Cancelling an unknown call id is a
// no-op.
func (m *Manager) Cancel(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[callID]; ok {
		t.Stop()
		delete(m.timers, callID)
	}
}

// Active reports whether a timer is currently armed for the call.
func (m *Manager) Active(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[callID]
	return ok
}

// Shutdown stops every armed timer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
