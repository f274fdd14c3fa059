package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skypro1111/meeting-translate-service/internal/recording"
)

// DefaultTemplate is the report structure used when no custom template is
// configured.
const DefaultTemplate = `## Summary

## Key Points

## Decisions

## Action Items`

// ReportClient generates a report text from a transcript. It is satisfied
// by *translation.Client.
type ReportClient interface {
	GenerateReport(ctx context.Context, transcript, template, language string) (string, error)
}

// Generator produces meeting reports from finalized recordings.
type Generator struct {
	client   ReportClient
	template string
}

// NewGenerator creates a report generator. An empty template selects
// DefaultTemplate.
func NewGenerator(client ReportClient, template string) *Generator {
	if template == "" {
		template = DefaultTemplate
	}
	return &Generator{client: client, template: template}
}

// Generate formats the recording into a transcript and asks the language
// model for a report in the recording's target language.
func (g *Generator) Generate(ctx context.Context, rec *recording.MeetingRecording) (string, error) {
	transcript := FormatTranscript(rec)
	if transcript == "" {
		return "", fmt.Errorf("recording %s has no translated content", rec.ID)
	}

	report, err := g.client.GenerateReport(ctx, transcript, g.template, rec.TargetLanguage)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}
	return report, nil
}

// FormatTranscript renders the recording entries as a timestamped transcript.
// Gap markers become explicit untranslated intervals so the model does not
// hallucinate content for lost audio.
func FormatTranscript(rec *recording.MeetingRecording) string {
	var b strings.Builder

	for _, entry := range rec.Entries {
		offset := entry.StartTime.Sub(rec.StartedAt).Round(time.Second)
		if offset < 0 {
			offset = 0
		}

		if entry.IsGap() {
			fmt.Fprintf(&b, "[%s] [%s] (untranslated interval, %s)\n",
				formatOffset(offset), entry.Source,
				entry.EndTime.Sub(entry.StartTime).Round(time.Second))
			continue
		}
		if entry.TranslatedText == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] [%s] %s\n", formatOffset(offset), entry.Source, entry.TranslatedText)
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatOffset(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d",
		int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
