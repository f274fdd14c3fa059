package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

// Source is the capture capability for one audio endpoint. Open returns a
// lazily produced, non-restartable frame stream; the channel closes when the
// device fails or Close is called. Err reports why the stream ended: nil for
// a clean close, a *DeviceError otherwise.
//
// A Source may be reopened after failure; frame sequence numbers continue
// across reopens so per-source ordering stays monotonic.
type Source interface {
	Label() audio.SourceLabel
	Open(ctx context.Context) (<-chan audio.Frame, error)
	Close() error
	Err() error
}

// DeviceError reports that an audio device failed or was revoked
// mid-session. It is transient by default; the session coordinator may
// attempt to reopen the source.
type DeviceError struct {
	Source audio.SourceLabel
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s failed: %v", e.Source, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// frameReader slices an s16le PCM byte stream into fixed-interval frames
// and delivers them on out. It returns the read error that ended the
// stream, or nil on EOF. Sequence numbers start at seq+1.
func frameReader(ctx context.Context, r io.Reader, label audio.SourceLabel,
	sampleRate int, frameDuration time.Duration, base time.Time, seq *uint64,
	out chan<- audio.Frame) error {

	samplesPerFrame := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	buf := make([]byte, samplesPerFrame*2)

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			// A partial trailing frame means the producer stopped
			// mid-write; treat it as a clean end of stream.
			if err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		samples := make([]int16, samplesPerFrame)
		for i := 0; i < samplesPerFrame; i++ {
			samples[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
		}

		*seq++
		frame := audio.Frame{
			Source:     label,
			Seq:        *seq,
			Timestamp:  base.Add(time.Duration(n) * frameDuration),
			SampleRate: sampleRate,
			Samples:    samples,
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}
