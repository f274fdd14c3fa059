package audio

import (
	"time"
)

// segmentState represents the current state of the segmentation process.
type segmentState int

const (
	stateIdle segmentState = iota
	stateCollecting
)

// SegmenterConfig contains the segmentation policy parameters.
type SegmenterConfig struct {
	// SilenceThreshold is the normalized RMS level below which a frame
	// counts as silence.
	SilenceThreshold float64
	// SilenceGap is the trailing silence required to close a segment.
	SilenceGap time.Duration
	// MaxSegment caps segment duration regardless of voice activity.
	MaxSegment time.Duration
	// MinSegment is the minimum voiced duration a silence-closed segment
	// must reach; shorter runs keep collecting. Final flushes ignore it.
	MinSegment time.Duration
	SampleRate int
}

// SegmenterStats reports segmentation progress for monitoring.
type SegmenterStats struct {
	State            string        `json:"state"`
	SegmentsEmitted  uint64        `json:"segments_emitted"`
	TotalDuration    time.Duration `json:"total_duration"`
	PendingDuration  time.Duration `json:"pending_duration"`
	FramesProcessed  uint64        `json:"frames_processed"`
	FramesVoiced     uint64        `json:"frames_voiced"`
}

// Segmenter converts a raw frame stream into discrete utterance segments.
// A segment opens on the first voiced frame, closes when trailing silence
// persists for SilenceGap (once MinSegment is met) or when MaxSegment is
// reached, whichever comes first.
//
// A Segmenter is owned by a single capture goroutine and is not safe for
// concurrent use.
type Segmenter struct {
	config SegmenterConfig
	source SourceLabel
	state  segmentState

	samples      []int16
	startTime    time.Time
	startSeq     uint64
	endSeq       uint64
	lastEnd      time.Time
	lastVoiceEnd time.Time
	voiced       time.Duration

	segmentsEmitted uint64
	totalDuration   time.Duration
	framesProcessed uint64
	framesVoiced    uint64
}

// NewSegmenter creates a segmenter for one source.
func NewSegmenter(source SourceLabel, config SegmenterConfig) *Segmenter {
	return &Segmenter{
		config: config,
		source: source,
		state:  stateIdle,
	}
}

// Push feeds one frame into the segmenter and returns a closed segment when
// the policy delimits one, nil otherwise. Timing decisions are driven by
// frame timestamps, not the wall clock.
func (s *Segmenter) Push(frame Frame) *Segment {
	s.framesProcessed++
	voiced := frame.Energy() >= s.config.SilenceThreshold
	if voiced {
		s.framesVoiced++
	}

	switch s.state {
	case stateIdle:
		if !voiced {
			// Leading silence carries no utterance; drop it.
			return nil
		}
		s.open(frame)
		return nil

	case stateCollecting:
		// Close before appending if this frame would push the segment
		// past the duration cap.
		if s.lastEnd.Sub(s.startTime)+frame.Duration() > s.config.MaxSegment {
			seg := s.close()
			if voiced {
				s.open(frame)
			}
			return seg
		}

		s.append(frame, voiced)

		duration := s.lastEnd.Sub(s.startTime)
		if duration >= s.config.MaxSegment {
			return s.close()
		}

		if !voiced {
			trailing := s.lastEnd.Sub(s.lastVoiceEnd)
			if trailing >= s.config.SilenceGap && s.voiced >= s.config.MinSegment {
				return s.close()
			}
		}
	}

	return nil
}

// Flush closes the pending segment at stream end. Partial segments shorter
// than MinSegment are still emitted; segments with no voiced audio are
// dropped. The segmenter returns to the idle state either way.
func (s *Segmenter) Flush() *Segment {
	if s.state != stateCollecting {
		return nil
	}
	if s.voiced <= 0 {
		s.reset()
		return nil
	}
	return s.close()
}

// HasPending reports whether a segment is currently being collected.
func (s *Segmenter) HasPending() bool {
	return s.state == stateCollecting
}

// GetStats returns segmentation statistics.
func (s *Segmenter) GetStats() SegmenterStats {
	stateStr := "idle"
	pending := time.Duration(0)
	if s.state == stateCollecting {
		stateStr = "collecting"
		pending = s.lastEnd.Sub(s.startTime)
	}

	return SegmenterStats{
		State:           stateStr,
		SegmentsEmitted: s.segmentsEmitted,
		TotalDuration:   s.totalDuration,
		PendingDuration: pending,
		FramesProcessed: s.framesProcessed,
		FramesVoiced:    s.framesVoiced,
	}
}

func (s *Segmenter) open(frame Frame) {
	s.state = stateCollecting
	s.samples = append([]int16(nil), frame.Samples...)
	s.startTime = frame.Timestamp
	s.startSeq = frame.Seq
	s.endSeq = frame.Seq
	s.lastEnd = frame.End()
	s.lastVoiceEnd = frame.End()
	s.voiced = frame.Duration()
}

func (s *Segmenter) append(frame Frame, voiced bool) {
	s.samples = append(s.samples, frame.Samples...)
	s.endSeq = frame.Seq
	s.lastEnd = frame.End()
	if voiced {
		s.lastVoiceEnd = frame.End()
		s.voiced += frame.Duration()
	}
}

func (s *Segmenter) close() *Segment {
	seg := &Segment{
		Source:         s.source,
		StartTime:      s.startTime,
		EndTime:        s.lastEnd,
		StartSeq:       s.startSeq,
		EndSeq:         s.endSeq,
		SampleRate:     s.config.SampleRate,
		Samples:        s.samples,
		VoicedDuration: s.voiced,
	}

	s.segmentsEmitted++
	s.totalDuration += seg.Duration()
	s.reset()

	return seg
}

func (s *Segmenter) reset() {
	s.state = stateIdle
	s.samples = nil
	s.startTime = time.Time{}
	s.lastEnd = time.Time{}
	s.lastVoiceEnd = time.Time{}
	s.startSeq = 0
	s.endSeq = 0
	s.voiced = 0
}
