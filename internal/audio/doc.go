// Package audio defines the PCM frame and segment types shared by the
// capture and translation pipeline. It implements energy-based silence
// measurement, silence/duration utterance segmentation, and WAV encoding
// of segment payloads for the language service.
package audio
