// Package recording assembles translated segments into per-meeting
// recordings and persists them as JSON files.
package recording
