package capture

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

// ReaderSource frames s16le PCM from an arbitrary reader. It backs file
// replay and tests; timestamps are synthesized from a fixed base so the
// resulting frame stream is deterministic.
type ReaderSource struct {
	label         audio.SourceLabel
	r             io.Reader
	sampleRate    int
	frameDuration time.Duration
	base          time.Time

	mu      sync.Mutex
	open    bool
	cancel  context.CancelFunc
	lastErr error
	seq     uint64
}

// NewReaderSource creates a source reading PCM from r. base is the timestamp
// assigned to the first frame.
func NewReaderSource(label audio.SourceLabel, r io.Reader, sampleRate int,
	frameDuration time.Duration, base time.Time) *ReaderSource {

	return &ReaderSource{
		label:         label,
		r:             r,
		sampleRate:    sampleRate,
		frameDuration: frameDuration,
		base:          base,
	}
}

// Label returns the source identity tag.
func (s *ReaderSource) Label() audio.SourceLabel {
	return s.label
}

// Open starts framing the reader. The stream ends at EOF (clean) or on a
// read error (reported through Err).
func (s *ReaderSource) Open(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.open = true
	s.lastErr = nil

	frames := make(chan audio.Frame, 8)

	go func() {
		defer close(frames)

		err := frameReader(streamCtx, s.r, s.label, s.sampleRate,
			s.frameDuration, s.base, &s.seq, frames)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.open = false
		if err != nil && streamCtx.Err() == nil {
			s.lastErr = &DeviceError{Source: s.label, Err: err}
		}
	}()

	return frames, nil
}

// Close stops the stream.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Err returns the failure that ended the last stream, if any.
func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
