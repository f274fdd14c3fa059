// Package capture acquires raw PCM audio from the two meeting endpoints
// (microphone and system loopback). Sources expose a uniform frame-stream
// capability; the concrete device source reads s16le PCM from a spawned
// capture process and slices it into fixed-interval frames.
package capture
