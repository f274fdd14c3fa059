package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-translate-service/internal/recording"
)

// CoordinatorFactory builds a fresh coordinator for each meeting session.
type CoordinatorFactory func() (*Coordinator, error)

// Manager runs at most one meeting session at a time. Stopped sessions are
// persisted to the store and the coordinator is discarded, so a new session
// always starts from a clean pipeline.
type Manager struct {
	factory CoordinatorFactory
	store   *recording.Store

	mu      sync.Mutex
	current *Coordinator
	lastRec *recording.MeetingRecording
}

// NewManager creates a session manager.
func NewManager(factory CoordinatorFactory, store *recording.Store) *Manager {
	return &Manager{factory: factory, store: store}
}

// StartSession begins a new meeting. It fails while another session is
// still recording or stopping.
func (m *Manager) StartSession(ctx context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		switch m.current.State() {
		case StateRecording, StateStopping:
			return uuid.Nil, fmt.Errorf("a session is already active")
		case StateStopped:
			// Auto-stopped session nobody collected yet; persist it first.
			if err := m.collectLocked(context.Background()); err != nil {
				return uuid.Nil, err
			}
		}
	}

	coordinator, err := m.factory()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to build session pipeline: %w", err)
	}

	meetingID, err := coordinator.Start(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	m.current = coordinator
	return meetingID, nil
}

// StopSession stops the active session, persists the recording and returns
// it.
func (m *Manager) StopSession(ctx context.Context) (*recording.MeetingRecording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, fmt.Errorf("no active session")
	}
	if err := m.collectLocked(ctx); err != nil {
		return nil, err
	}
	return m.lastRec, nil
}

// collectLocked stops the current coordinator and saves its recording.
func (m *Manager) collectLocked(ctx context.Context) error {
	rec, err := m.current.Stop(ctx)
	if err != nil {
		return err
	}

	if err := m.store.Save(rec); err != nil {
		// The recording still exists in memory; surface the failure but do
		// not lose the session result.
		slog.Error("Failed to persist recording", "recording_id", rec.ID, "error", err)
	}

	m.lastRec = rec
	m.current = nil
	return nil
}

// Status reports the live coordinator status, or an idle status when no
// session is active.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Status{State: StateIdle}
	}
	return m.current.GetStatus()
}

// LastRecording returns the most recently finished recording, if any.
func (m *Manager) LastRecording() (*recording.MeetingRecording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRec, m.lastRec != nil
}
