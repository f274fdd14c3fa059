package translation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
	"github.com/skypro1111/meeting-translate-service/internal/metrics"
)

// languageAPI is the slice of the OpenAI client the language service needs.
// *openai.Client satisfies it; tests substitute fakes.
type languageAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config contains language service client configuration.
type Config struct {
	APIKeys            []string
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
	Timeout            time.Duration
	MaxRetries         int
	BackoffBase        time.Duration
	MaxBackoff         time.Duration
	MaxConcurrent      int

	// Metrics records retry counts; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Request asks for one segment to be transcribed and translated.
type Request struct {
	Segment *audio.Segment
	// SourceLanguage is an optional ISO 639-1 hint for transcription.
	SourceLanguage string
	// TargetLanguage is the ISO 639-1 code to translate into.
	TargetLanguage string
}

// Result is the translated outcome of one segment.
type Result struct {
	OriginalText   string
	TranslatedText string
}

// ClientStats reports client usage counters.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	Keys            []KeyStats    `json:"keys"`
}

// Client invokes the external language service for one segment at a time.
// Calls are independent and may run concurrently up to MaxConcurrent; each
// call owns its retry/backoff loop.
type Client struct {
	config    Config
	pool      *keyPool
	semaphore chan struct{}

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a language service client with one underlying API client
// per configured key.
func NewClient(config Config) (*Client, error) {
	if len(config.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	apis := make([]languageAPI, 0, len(config.APIKeys))
	for _, key := range config.APIKeys {
		cfg := openai.DefaultConfig(key)
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		cfg.HTTPClient = &http.Client{Timeout: config.Timeout}
		apis = append(apis, openai.NewClientWithConfig(cfg))
	}

	return newClientWithAPIs(config, apis)
}

// newClientWithAPIs wires a client over explicit API implementations.
func newClientWithAPIs(config Config, apis []languageAPI) (*Client, error) {
	if config.TranscriptionModel == "" {
		config.TranscriptionModel = openai.Whisper1
	}
	if config.ChatModel == "" {
		config.ChatModel = openai.GPT4oMini
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	pool, err := newKeyPool(apis)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:    config,
		pool:      pool,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Translate transcribes one segment and translates the transcript into the
// target language. Transient failures are retried with exponential backoff;
// a *PermanentError return means the segment is lost and should be recorded
// as a gap.
func (c *Client) Translate(ctx context.Context, req Request) (*Result, error) {
	// The semaphore is the shared outstanding-call budget across sources.
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotal()

	wav, err := req.Segment.WAV()
	if err != nil {
		c.incrementFailed()
		return nil, &PermanentError{Err: fmt.Errorf("failed to encode segment: %w", err)}
	}

	var originalText string
	err = c.withRetry(ctx, func(api languageAPI) error {
		resp, err := api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.config.TranscriptionModel,
			FilePath: fmt.Sprintf("%s_%d.wav", req.Segment.Source, req.Segment.StartSeq),
			Reader:   bytes.NewReader(wav),
			Language: req.SourceLanguage,
		})
		if err != nil {
			return err
		}
		originalText = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		c.incrementFailed()
		return nil, err
	}

	// Nothing intelligible in the audio; publish an empty result so the
	// sequence stays gap-free.
	if originalText == "" {
		c.recordSuccess(time.Since(startTime))
		return &Result{}, nil
	}

	var translatedText string
	err = c.withRetry(ctx, func(api languageAPI) error {
		resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.config.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: translationPrompt(originalText, req.SourceLanguage, req.TargetLanguage),
				},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return &PermanentError{Err: fmt.Errorf("chat completion returned no choices")}
		}
		translatedText = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		c.incrementFailed()
		return nil, err
	}

	c.recordSuccess(time.Since(startTime))
	return &Result{OriginalText: originalText, TranslatedText: translatedText}, nil
}

// GenerateReport produces a meeting report in the requested language from a
// transcript, following the structure of the supplied template.
func (c *Client) GenerateReport(ctx context.Context, transcript, template, language string) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotal()

	var report string
	err := c.withRetry(ctx, func(api languageAPI) error {
		resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.config.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: reportPrompt(transcript, template, language),
				},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return &PermanentError{Err: fmt.Errorf("chat completion returned no choices")}
		}
		report = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		c.incrementFailed()
		return "", err
	}

	c.recordSuccess(time.Since(startTime))
	return report, nil
}

// withRetry runs op with the retry/backoff policy: transient failures retry
// up to MaxRetries with exponential backoff capped at MaxBackoff; permanent
// failures surface immediately; exhaustion converts to a PermanentError.
func (c *Client) withRetry(ctx context.Context, op func(api languageAPI) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementRetries()
			c.config.Metrics.RecordTranslationRetry()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.BackoffBase
			if backoff > c.config.MaxBackoff {
				backoff = c.config.MaxBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		entry := c.pool.acquire()
		err := op(entry.api)
		// A canceled call says nothing about the key's health.
		c.pool.release(entry, err != nil && !errors.Is(err, context.Canceled))

		if err == nil {
			return nil
		}

		classified := classify(err)
		var transient *TransientError
		if !errors.As(classified, &transient) {
			// Permanent or cancellation: no further attempts.
			return classified
		}
		lastErr = classified
	}

	return &PermanentError{Err: lastErr, RetriesExhausted: true}
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
		Keys:            c.pool.stats(),
	}
}

func (c *Client) incrementTotal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) recordSuccess(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// languageName maps an ISO 639-1 code to the name used in prompts.
func languageName(code string) string {
	names := map[string]string{
		"en": "English",
		"ru": "Russian",
		"pl": "Polish",
		"uk": "Ukrainian",
		"de": "German",
		"fr": "French",
		"es": "Spanish",
	}
	if name, ok := names[code]; ok {
		return name
	}
	return code
}

func translationPrompt(text, sourceLanguage, targetLanguage string) string {
	source := "the source language"
	if sourceLanguage != "" {
		source = languageName(sourceLanguage)
	}
	return fmt.Sprintf(
		"Translate the following text from %s to %s. Output only the translation, without any commentary:\n\n%s",
		source, languageName(targetLanguage), text)
}

func reportPrompt(transcript, template, language string) string {
	return fmt.Sprintf(
		"Based on the following meeting transcript and the example report structure, "+
			"write a complete meeting report in %s.\n\n"+
			"Example report structure:\n%s\n\n"+
			"Meeting transcript:\n%s\n\n"+
			"Follow the structure of the example, using only information from the transcript.",
		languageName(language), template, transcript)
}
