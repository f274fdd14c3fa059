package recording

import (
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

// Entry is one published item of a meeting recording: either a translated
// segment or a gap marker for a segment that was permanently lost.
type Entry struct {
	// Seq is the global dispatch order across both sources.
	Seq    uint64            `json:"seq"`
	Source audio.SourceLabel `json:"source"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	OriginalText   string `json:"original_text,omitempty"`
	TranslatedText string `json:"translated_text,omitempty"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`

	// GapReason is non-empty when the entry marks a lost segment instead of
	// carrying text ("translation_failed", "shutdown").
	GapReason string `json:"gap_reason,omitempty"`
}

// IsGap reports whether the entry is a gap marker.
func (e *Entry) IsGap() bool {
	return e.GapReason != ""
}

// MeetingRecording is the append-only record of one meeting session.
type MeetingRecording struct {
	ID        uuid.UUID `json:"id"`
	MeetingID uuid.UUID `json:"meeting_id"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	TargetLanguage string `json:"target_language"`

	// Entries are ordered by Seq.
	Entries []Entry `json:"entries"`

	// DegradedSources lists sources that failed permanently during the
	// session, so a partial recording is distinguishable from a full one.
	DegradedSources []audio.SourceLabel `json:"degraded_sources,omitempty"`
}

// Duration returns the wall-clock span of the recording, zero until it is
// finalized.
func (r *MeetingRecording) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// GapCount returns the number of gap markers in the recording.
func (r *MeetingRecording) GapCount() int {
	count := 0
	for i := range r.Entries {
		if r.Entries[i].IsGap() {
			count++
		}
	}
	return count
}
