package recording

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

// Assembler builds one MeetingRecording from published entries. Appends are
// idempotent by Seq and the recording is finalized exactly once.
type Assembler struct {
	mu sync.Mutex

	recording *MeetingRecording
	seen      map[uint64]bool
	finalized bool
}

// NewAssembler starts a recording for the given meeting.
func NewAssembler(meetingID uuid.UUID, targetLanguage string, startedAt time.Time) *Assembler {
	return &Assembler{
		recording: &MeetingRecording{
			ID:             uuid.New(),
			MeetingID:      meetingID,
			StartedAt:      startedAt,
			TargetLanguage: targetLanguage,
			Entries:        make([]Entry, 0, 64),
		},
		seen: make(map[uint64]bool),
	}
}

// Append adds an entry to the recording. A duplicate Seq is ignored, so
// replayed publishes leave the recording unchanged. Appends after Finalize
// are rejected.
func (a *Assembler) Append(entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return fmt.Errorf("recording %s is finalized", a.recording.ID)
	}
	if a.seen[entry.Seq] {
		slog.Debug("Duplicate entry ignored",
			"recording_id", a.recording.ID,
			"seq", entry.Seq)
		return nil
	}

	a.seen[entry.Seq] = true
	a.recording.Entries = append(a.recording.Entries, entry)
	return nil
}

// MarkDegraded records that a source failed permanently during the session.
// Marking the same source twice is a no-op.
func (a *Assembler) MarkDegraded(source audio.SourceLabel) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return
	}
	for _, s := range a.recording.DegradedSources {
		if s == source {
			return
		}
	}
	a.recording.DegradedSources = append(a.recording.DegradedSources, source)
}

// Len returns the number of entries appended so far.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recording.Entries)
}

// Finalize seals the recording and returns it. Entries are sorted by Seq.
// A second call returns an error without touching the recording.
func (a *Assembler) Finalize(endedAt time.Time) (*MeetingRecording, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return nil, fmt.Errorf("recording %s already finalized", a.recording.ID)
	}
	a.finalized = true

	a.recording.EndedAt = endedAt
	sort.Slice(a.recording.Entries, func(i, j int) bool {
		return a.recording.Entries[i].Seq < a.recording.Entries[j].Seq
	})

	slog.Info("Recording finalized",
		"recording_id", a.recording.ID,
		"meeting_id", a.recording.MeetingID,
		"entries", len(a.recording.Entries),
		"gaps", a.recording.GapCount(),
		"duration", a.recording.Duration())

	return a.recording, nil
}
