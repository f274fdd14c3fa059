package audio

import (
	"math"
	"time"
)

// SourceLabel identifies which capture endpoint produced a frame or segment.
type SourceLabel string

const (
	SourceMicrophone SourceLabel = "microphone"
	SourceSystem     SourceLabel = "system"
)

// Frame is a fixed-interval block of PCM-16 samples from one source.
// Frames are immutable once produced; Seq increases monotonically per source.
type Frame struct {
	Source     SourceLabel
	Seq        uint64
	Timestamp  time.Time
	SampleRate int
	Samples    []int16
}

// Duration returns the audio duration covered by the frame.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// End returns the timestamp just past the last sample of the frame.
func (f *Frame) End() time.Time {
	return f.Timestamp.Add(f.Duration())
}

// Energy returns the normalized RMS level of the frame in the range 0..1,
// where 1 corresponds to a full-scale PCM-16 signal.
func (f *Frame) Energy() float64 {
	return RMS(f.Samples)
}

// RMS computes the root mean square level of PCM-16 samples normalized
// to 0..1 against full scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	level := rms / float64(math.MaxInt16)
	if level > 1 {
		level = 1
	}
	return level
}

// Segment is a bounded run of frames from one source, delimited by trailing
// silence or the maximum duration cap. The payload is consumed exactly once
// by the coordinator and dropped after a successful translation.
type Segment struct {
	Source     SourceLabel
	StartTime  time.Time
	EndTime    time.Time
	StartSeq   uint64
	EndSeq     uint64
	SampleRate int
	Samples    []int16

	// VoicedDuration is the total duration of frames at or above the
	// silence threshold; zero means the segment carries no speech.
	VoicedDuration time.Duration
}

// Duration returns the wall-time span the segment covers.
func (s *Segment) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// WAV encodes the segment payload as a mono PCM-16 WAV blob for the
// language service.
func (s *Segment) WAV() ([]byte, error) {
	return EncodeWAV(s.Samples, s.SampleRate)
}
