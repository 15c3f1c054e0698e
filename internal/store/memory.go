package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"price-target-alerts/internal/alert"
)

// Memory is a mutex-guarded in-memory AlertStore. It backs tests and the
// quick-start configuration without a database DSN; the CAS semantics are
// identical to the PostgreSQL implementation.
type Memory struct {
	mu            sync.Mutex
	alerts        map[uuid.UUID]alert.Alert
	notifications []NotificationRecord
	sent          map[uuid.UUID]bool
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		alerts: make(map[uuid.UUID]alert.Alert),
		sent:   make(map[uuid.UUID]bool),
	}
}

// Create stores a new alert record.
func (m *Memory) Create(_ context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	return nil
}

// GetOwned returns the alert when it exists and belongs to ownerID.
func (m *Memory) GetOwned(_ context.Context, id, ownerID uuid.UUID) (alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok || a.OwnerID != ownerID {
		return alert.Alert{}, alert.ErrNotFound
	}
	return a, nil
}

// ListByOwner returns every alert belonging to ownerID, terminal ones included.
func (m *Memory) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]alert.Alert, 0)
	for _, a := range m.alerts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListActive returns every alert still in the Active state.
func (m *Memory) ListActive(_ context.Context) ([]alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]alert.Alert, 0)
	for _, a := range m.alerts {
		if a.Status == alert.StatusActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteOwned removes the alert when it exists and belongs to ownerID.
func (m *Memory) DeleteOwned(_ context.Context, id, ownerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok || a.OwnerID != ownerID {
		return alert.ErrNotFound
	}
	delete(m.alerts, id)
	return nil
}

// RecordEvaluation updates the failure counter and evaluation timestamp.
func (m *Memory) RecordEvaluation(_ context.Context, id uuid.UUID, consecutiveFailures int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return alert.ErrNotFound
	}
	a.ConsecutiveFailures = consecutiveFailures
	a.LastEvaluatedAt = &at
	m.alerts[id] = a
	return nil
}

// TransitionStatus atomically swaps the status when the prior state matches.
func (m *Memory) TransitionStatus(_ context.Context, id uuid.UUID, from, to alert.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return false, alert.ErrNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	m.alerts[id] = a
	return true, nil
}

// InsertNotification appends an audit record, refusing a second Sent entry
// for the same alert.
func (m *Memory) InsertNotification(_ context.Context, rec NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Outcome == OutcomeSent {
		if m.sent[rec.AlertID] {
			return ErrDuplicateNotification
		}
		m.sent[rec.AlertID] = true
	}
	m.notifications = append(m.notifications, rec)
	return nil
}

// Notifications returns a copy of the audit trail, oldest first.
func (m *Memory) Notifications() []NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]NotificationRecord, len(m.notifications))
	copy(out, m.notifications)
	return out
}

var _ AlertStore = (*Memory)(nil)
