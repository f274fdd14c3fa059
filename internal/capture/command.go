package capture

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

// CommandConfig describes the capture process for one endpoint. The command
// must write raw s16le mono PCM at SampleRate to stdout (ffmpeg, parec and
// similar tools all support this).
type CommandConfig struct {
	Label         audio.SourceLabel
	Command       string
	Args          []string
	SampleRate    int
	FrameDuration time.Duration
}

// CommandSource captures audio by spawning the configured process and
// framing its stdout. It holds the process (and with it the OS audio handle)
// for the lifetime of the stream and kills it deterministically on Close,
// including error paths.
type CommandSource struct {
	config CommandConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	closed  bool
	lastErr error
	seq     uint64
	done    chan struct{}
}

// NewCommandSource creates a capture source backed by an external process.
func NewCommandSource(config CommandConfig) (*CommandSource, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("capture command cannot be empty")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.FrameDuration <= 0 {
		return nil, fmt.Errorf("frame duration must be positive, got %v", config.FrameDuration)
	}

	return &CommandSource{config: config}, nil
}

// Label returns the source identity tag.
func (s *CommandSource) Label() audio.SourceLabel {
	return s.config.Label
}

// Open starts the capture process and returns its frame stream. The stream
// ends when the process exits or the context is cancelled; a non-clean exit
// is reported through Err as a *DeviceError.
func (s *CommandSource) Open(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil, fmt.Errorf("source %s already open", s.config.Label)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, s.config.Command, s.config.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open capture pipe for %s: %w", s.config.Label, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &DeviceError{Source: s.config.Label, Err: err}
	}

	s.cmd = cmd
	s.cancel = cancel
	s.closed = false
	s.lastErr = nil
	s.done = make(chan struct{})

	frames := make(chan audio.Frame, 8)
	done := s.done

	go func() {
		defer close(frames)
		defer close(done)

		readErr := frameReader(procCtx, stdout, s.config.Label,
			s.config.SampleRate, s.config.FrameDuration, time.Now(), &s.seq, frames)

		waitErr := cmd.Wait()
		cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.cmd = nil
		if s.closed || procCtx.Err() != nil {
			// Deliberate close; not a device failure.
			return
		}
		switch {
		case readErr != nil:
			s.lastErr = &DeviceError{Source: s.config.Label, Err: readErr}
		case waitErr != nil:
			s.lastErr = &DeviceError{Source: s.config.Label, Err: waitErr}
		default:
			// Process ended on its own with a clean exit; the device
			// stream is not supposed to terminate, so flag it.
			s.lastErr = &DeviceError{Source: s.config.Label, Err: fmt.Errorf("capture process exited")}
		}
	}()

	return frames, nil
}

// Close terminates the capture process and releases the audio handle. Safe
// to call more than once.
func (s *CommandSource) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Err returns the device failure that ended the last stream, or nil after a
// clean close.
func (s *CommandSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
