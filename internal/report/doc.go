// Package report turns a finalized meeting recording into a transcript and
// generates a templated meeting report from it.
package report
