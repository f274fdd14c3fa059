package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Audio       AudioConfig       `yaml:"audio"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Translation TranslationConfig `yaml:"translation"`
	Session     SessionConfig     `yaml:"session"`
	Recording   RecordingConfig   `yaml:"recording"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// SourceConfig describes one capture source: the command that produces raw
// s16le PCM on stdout and the expected spoken language.
type SourceConfig struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	Language string   `yaml:"language"`
}

// AudioConfig contains audio capture parameters
type AudioConfig struct {
	SampleRate       int          `yaml:"sample_rate"`
	FrameMs          int          `yaml:"frame_ms"`
	SilenceThreshold float64      `yaml:"silence_threshold"`
	Microphone       SourceConfig `yaml:"microphone"`
	System           SourceConfig `yaml:"system"`
}

// SegmenterConfig contains speech segmentation parameters
type SegmenterConfig struct {
	SilenceGapMs int `yaml:"silence_gap_ms"`
	MaxSegmentMs int `yaml:"max_segment_ms"`
	MinSegmentMs int `yaml:"min_segment_ms"`
}

// TranslationConfig contains language service configuration. API keys come
// from the environment, never from this file.
type TranslationConfig struct {
	BaseURL            string `yaml:"base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	ChatModel          string `yaml:"chat_model"`
	TargetLanguage     string `yaml:"target_language"`
	Timeout            int    `yaml:"timeout"` // seconds
	MaxRetries         int    `yaml:"max_retries"`
	MaxBackoffMs       int    `yaml:"max_backoff_ms"`
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
}

// SessionConfig contains pipeline lifecycle configuration
type SessionConfig struct {
	ShutdownDrainTimeoutMs int `yaml:"shutdown_drain_timeout_ms"`
	SourceReopenAttempts   int `yaml:"source_reopen_attempts"`
	ReopenBackoffMs        int `yaml:"reopen_backoff_ms"`
}

// RecordingConfig contains recording persistence configuration
type RecordingConfig struct {
	OutputDir      string `yaml:"output_dir"`
	ReportTemplate string `yaml:"report_template"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 24000, 44100, 48000:
	default:
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 24000, 44100, 48000], got %d", a.SampleRate)
	}

	if a.FrameMs < 10 || a.FrameMs > 100 {
		return fmt.Errorf("frame_ms must be between 10 and 100, got %d", a.FrameMs)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	if a.Microphone.Command == "" {
		return fmt.Errorf("microphone capture command cannot be empty")
	}

	if a.System.Command == "" {
		return fmt.Errorf("system capture command cannot be empty")
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.SilenceGapMs < 100 {
		return fmt.Errorf("silence_gap_ms must be at least 100, got %d", s.SilenceGapMs)
	}

	if s.MinSegmentMs <= 0 {
		return fmt.Errorf("min_segment_ms must be positive, got %d", s.MinSegmentMs)
	}

	if s.MaxSegmentMs <= s.MinSegmentMs {
		return fmt.Errorf("max_segment_ms (%d) must be greater than min_segment_ms (%d)",
			s.MaxSegmentMs, s.MinSegmentMs)
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate() error {
	if t.TargetLanguage == "" {
		return fmt.Errorf("target_language cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxBackoffMs < 0 {
		return fmt.Errorf("max_backoff_ms cannot be negative, got %d", t.MaxBackoffMs)
	}

	if t.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max_concurrent_calls must be at least 1, got %d", t.MaxConcurrentCalls)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.ShutdownDrainTimeoutMs < 1 {
		return fmt.Errorf("shutdown_drain_timeout_ms must be at least 1, got %d", s.ShutdownDrainTimeoutMs)
	}

	if s.SourceReopenAttempts < 0 {
		return fmt.Errorf("source_reopen_attempts cannot be negative, got %d", s.SourceReopenAttempts)
	}

	if s.ReopenBackoffMs < 0 {
		return fmt.Errorf("reopen_backoff_ms cannot be negative, got %d", s.ReopenBackoffMs)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetFrameDuration returns the capture frame length as a time.Duration
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// GetSilenceGapDuration returns the silence gap as a time.Duration
func (s *SegmenterConfig) GetSilenceGapDuration() time.Duration {
	return time.Duration(s.SilenceGapMs) * time.Millisecond
}

// GetMaxSegmentDuration returns the maximum segment length as a time.Duration
func (s *SegmenterConfig) GetMaxSegmentDuration() time.Duration {
	return time.Duration(s.MaxSegmentMs) * time.Millisecond
}

// GetMinSegmentDuration returns the minimum segment length as a time.Duration
func (s *SegmenterConfig) GetMinSegmentDuration() time.Duration {
	return time.Duration(s.MinSegmentMs) * time.Millisecond
}

// GetTimeoutDuration returns the translation timeout as a time.Duration
func (t *TranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetMaxBackoffDuration returns the retry backoff cap as a time.Duration
func (t *TranslationConfig) GetMaxBackoffDuration() time.Duration {
	return time.Duration(t.MaxBackoffMs) * time.Millisecond
}

// GetDrainTimeoutDuration returns the shutdown drain timeout as a time.Duration
func (s *SessionConfig) GetDrainTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownDrainTimeoutMs) * time.Millisecond
}

// GetReopenBackoffDuration returns the source reopen backoff as a time.Duration
func (s *SessionConfig) GetReopenBackoffDuration() time.Duration {
	return time.Duration(s.ReopenBackoffMs) * time.Millisecond
}
