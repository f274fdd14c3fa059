package session

import (
	"log/slog"

	"github.com/skypro1111/meeting-translate-service/internal/recording"
)

// Sink receives published entries in global sequence order. Publish is
// called from the coordinator's run loop and must not block for long.
type Sink interface {
	Publish(entry recording.Entry)
}

// LogSink writes every published entry to the structured log. It serves as
// the live display during development and as a fallback when no websocket
// client is connected.
type LogSink struct{}

// Publish logs one entry.
func (LogSink) Publish(entry recording.Entry) {
	if entry.IsGap() {
		slog.Warn("Segment lost",
			"seq", entry.Seq,
			"source", entry.Source,
			"reason", entry.GapReason,
			"start", entry.StartTime,
			"end", entry.EndTime)
		return
	}

	slog.Info("Translated segment",
		"seq", entry.Seq,
		"source", entry.Source,
		"original", entry.OriginalText,
		"translated", entry.TranslatedText)
}
