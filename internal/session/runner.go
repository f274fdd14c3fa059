package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

// runSource owns one capture source for the lifetime of the session: it
// feeds frames through the source's segmenter, reopens the device after
// failures and declares the source degraded when the reopen budget runs out.
func (c *Coordinator) runSource(ctx context.Context, cfg SourceConfig) {
	defer c.runnerWG.Done()

	label := cfg.Source.Label()
	segmenter := audio.NewSegmenter(label, cfg.Segmenter)
	attempts := 0

	defer func() {
		// The last partial segment still goes out, whatever ended the run.
		if segment := segmenter.Flush(); segment != nil {
			c.emitSegment(cfg, segment)
		}
	}()

	for {
		frames, err := cfg.Source.Open(ctx)
		if err != nil {
			slog.Error("Failed to open audio source",
				"source", label,
				"attempt", attempts,
				"error", err)
			if ctx.Err() != nil {
				return
			}
		} else {
			attempts = 0
			for frame := range frames {
				c.metrics.RecordFrameCaptured(string(label))
				if segment := segmenter.Push(frame); segment != nil {
					c.emitSegment(cfg, segment)
				}
			}
			cfg.Source.Close()

			if ctx.Err() != nil {
				return
			}
			if err := cfg.Source.Err(); err != nil {
				slog.Warn("Audio source failed",
					"source", label,
					"error", err)
			}
		}

		attempts++
		if attempts > c.config.ReopenAttempts {
			slog.Error("Audio source reopen budget exhausted",
				"source", label,
				"attempts", attempts-1)
			c.sendEvent(degradedEvent{source: label})
			return
		}

		c.metrics.RecordSourceReopen(string(label))
		slog.Info("Reopening audio source",
			"source", label,
			"attempt", attempts,
			"backoff", c.config.ReopenBackoff)

		select {
		case <-time.After(c.config.ReopenBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) emitSegment(cfg SourceConfig, segment *audio.Segment) {
	c.metrics.RecordSegmentEmitted(string(segment.Source), segment.Duration().Seconds())
	c.sendEvent(segmentEvent{language: cfg.Language, segment: segment})
}

// sendEvent delivers an event to the run loop, giving up if the loop has
// already exited.
func (c *Coordinator) sendEvent(ev any) {
	select {
	case c.events <- ev:
	case <-c.finished:
	}
}
