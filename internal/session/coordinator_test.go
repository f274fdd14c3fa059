package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
	"github.com/skypro1111/meeting-translate-service/internal/capture"
	"github.com/skypro1111/meeting-translate-service/internal/recording"
	"github.com/skypro1111/meeting-translate-service/internal/translation"
)

var testStart = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

const (
	testSampleRate    = 16000
	testFrameDuration = 20 * time.Millisecond
)

// frameBatch builds a frame sequence from a pattern of 'v' (voiced) and
// 's' (silent) frames, one frame per character.
func frameBatch(label audio.SourceLabel, pattern string, startSeq uint64, base time.Time) []audio.Frame {
	samplesPerFrame := testSampleRate / 50
	frames := make([]audio.Frame, 0, len(pattern))

	for i, ch := range pattern {
		samples := make([]int16, samplesPerFrame)
		if ch == 'v' {
			for j := range samples {
				samples[j] = 8000
			}
		}
		frames = append(frames, audio.Frame{
			Source:     label,
			Seq:        startSeq + uint64(i),
			Timestamp:  base.Add(time.Duration(i) * testFrameDuration),
			SampleRate: testSampleRate,
			Samples:    samples,
		})
	}
	return frames
}

func testSegmenterConfig() audio.SegmenterConfig {
	return audio.SegmenterConfig{
		SilenceThreshold: 0.01,
		SilenceGap:       60 * time.Millisecond,
		MaxSegment:       2 * time.Second,
		MinSegment:       100 * time.Millisecond,
		SampleRate:       testSampleRate,
	}
}

// fakeSource plays scripted frame batches. Each Open serves one batch; the
// frames channel closes when the batch is exhausted and Err reports the
// scripted failure for that batch. Past the last batch the source stays
// open and silent until the context is canceled.
type fakeSource struct {
	label   audio.SourceLabel
	batches [][]audio.Frame
	errs    []error

	mu    sync.Mutex
	opens int
	err   error
}

func (f *fakeSource) Label() audio.SourceLabel { return f.label }

func (f *fakeSource) Open(ctx context.Context) (<-chan audio.Frame, error) {
	f.mu.Lock()
	index := f.opens
	f.opens++
	f.err = nil
	f.mu.Unlock()

	frames := make(chan audio.Frame, 8)

	if index >= len(f.batches) {
		go func() {
			<-ctx.Done()
			close(frames)
		}()
		return frames, nil
	}

	go func() {
		defer close(frames)
		for _, frame := range f.batches[index] {
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil && index < len(f.errs) {
			f.mu.Lock()
			f.err = f.errs[index]
			f.mu.Unlock()
		}
	}()
	return frames, nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// fakeTranslator answers calls with text derived from the segment, blocking
// each call on a per-segment gate when holdAll is set.
type fakeTranslator struct {
	mu      sync.Mutex
	calls   int
	gates   map[string]chan struct{}
	holdAll bool

	// failKey makes the call for that segment return a permanent error.
	failKey string
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{gates: make(map[string]chan struct{})}
}

func segmentKey(seg *audio.Segment) string {
	return fmt.Sprintf("%s-%d", seg.Source, seg.StartSeq)
}

func (f *fakeTranslator) gate(key string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[key]
	if !ok {
		g = make(chan struct{})
		f.gates[key] = g
	}
	return g
}

func (f *fakeTranslator) releaseSegment(key string) {
	close(f.gate(key))
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranslator) Translate(ctx context.Context, req translation.Request) (*translation.Result, error) {
	f.mu.Lock()
	f.calls++
	hold := f.holdAll
	failKey := f.failKey
	f.mu.Unlock()

	key := segmentKey(req.Segment)
	if hold {
		select {
		case <-f.gate(key):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failKey != "" && key == failKey {
		return nil, &translation.PermanentError{Err: fmt.Errorf("scripted failure")}
	}

	text := key
	return &translation.Result{
		OriginalText:   text,
		TranslatedText: text + " (" + req.TargetLanguage + ")",
	}, nil
}

// recorderSink captures publish order.
type recorderSink struct {
	mu      sync.Mutex
	entries []recording.Entry
}

func (r *recorderSink) Publish(entry recording.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorderSink) snapshot() []recording.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recording.Entry(nil), r.entries...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCoordinator(t *testing.T, cfg Config, tr Translator, sinks ...Sink) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(cfg, tr, nil, sinks...)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	return c
}

func requireSeqOrder(t *testing.T, entries []recording.Entry) {
	t.Helper()
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entry %d published with seq %d; order %v", i, e.Seq, seqs(entries))
		}
	}
}

func seqs(entries []recording.Entry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Seq
	}
	return out
}

func TestCoordinatorPublishesInDispatchOrder(t *testing.T) {
	// Three segments from one source; completions arrive in the order
	// 3, 1, 2 and publishing must still follow the dispatch order.
	pattern := "vvvvvvvvssss"
	source := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern+pattern+pattern, 1, testStart)},
	}
	tr := newFakeTranslator()
	tr.holdAll = true
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
		ReopenAttempts: 1,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "3 translation calls", func() bool { return tr.callCount() == 3 })

	// Segments start at frame seqs 1, 13, 25 of the pattern repetition.
	tr.releaseSegment("microphone-25")
	time.Sleep(10 * time.Millisecond)
	tr.releaseSegment("microphone-1")
	time.Sleep(10 * time.Millisecond)
	tr.releaseSegment("microphone-13")

	waitFor(t, "3 published entries", func() bool { return len(sink.snapshot()) == 3 })

	entries := sink.snapshot()
	requireSeqOrder(t, entries)
	if entries[0].OriginalText != "microphone-1" ||
		entries[1].OriginalText != "microphone-13" ||
		entries[2].OriginalText != "microphone-25" {
		t.Errorf("entries out of dispatch order: %+v", entries)
	}
	if entries[0].TranslatedText != "microphone-1 (en)" {
		t.Errorf("unexpected translation %q", entries[0].TranslatedText)
	}

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(rec.Entries) != 3 || rec.GapCount() != 0 {
		t.Errorf("unexpected recording: %d entries, %d gaps", len(rec.Entries), rec.GapCount())
	}
}

func TestCoordinatorInterleavesTwoSources(t *testing.T) {
	pattern := "vvvvvvvvssss"
	mic := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern+pattern, 1, testStart)},
	}
	system := &fakeSource{
		label:   audio.SourceSystem,
		batches: [][]audio.Frame{frameBatch(audio.SourceSystem, pattern+pattern, 1, testStart.Add(5*time.Millisecond))},
	}
	tr := newFakeTranslator()
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources: []SourceConfig{
			{Source: mic, Language: "de", Segmenter: testSegmenterConfig()},
			{Source: system, Language: "pl", Segmenter: testSegmenterConfig()},
		},
		TargetLanguage: "en",
		ReopenAttempts: 1,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "4 published entries", func() bool { return len(sink.snapshot()) == 4 })

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	entries := sink.snapshot()
	requireSeqOrder(t, entries)

	// Per-source relative order must survive the interleaving.
	var lastMic, lastSystem time.Time
	micCount, systemCount := 0, 0
	for _, e := range entries {
		switch e.Source {
		case audio.SourceMicrophone:
			micCount++
			if !e.StartTime.After(lastMic) {
				t.Errorf("microphone entries out of order at seq %d", e.Seq)
			}
			lastMic = e.StartTime
		case audio.SourceSystem:
			systemCount++
			if !e.StartTime.After(lastSystem) {
				t.Errorf("system entries out of order at seq %d", e.Seq)
			}
			lastSystem = e.StartTime
		}
	}
	if micCount != 2 || systemCount != 2 {
		t.Errorf("expected 2 entries per source, got %d/%d", micCount, systemCount)
	}
	if len(rec.Entries) != 4 {
		t.Errorf("recording has %d entries", len(rec.Entries))
	}
}

func TestCoordinatorOrdersInterleavedSourcesUnderCompletionPermutation(t *testing.T) {
	// Six segments interleaved across two sources with every call held.
	// Gates are released so that the first microphone segment, which holds
	// one of the lowest sequence numbers, completes last of all; publishing
	// must still follow the global dispatch order.
	pattern := "vvvvvvvvssss"
	mic := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern+pattern+pattern, 1, testStart)},
	}
	system := &fakeSource{
		label:   audio.SourceSystem,
		batches: [][]audio.Frame{frameBatch(audio.SourceSystem, pattern+pattern+pattern, 1, testStart.Add(5*time.Millisecond))},
	}
	tr := newFakeTranslator()
	tr.holdAll = true
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources: []SourceConfig{
			{Source: mic, Language: "de", Segmenter: testSegmenterConfig()},
			{Source: system, Language: "pl", Segmenter: testSegmenterConfig()},
		},
		TargetLanguage: "en",
		ReopenAttempts: 1,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "6 translation calls", func() bool { return tr.callCount() == 6 })

	for _, key := range []string{"system-25", "microphone-25", "system-13", "system-1", "microphone-13"} {
		tr.releaseSegment(key)
		time.Sleep(5 * time.Millisecond)
	}

	// One call is still outstanding, so the publish stream cannot be
	// complete yet.
	if n := len(sink.snapshot()); n >= 6 {
		t.Fatalf("published %d entries while a call was outstanding", n)
	}

	tr.releaseSegment("microphone-1")
	waitFor(t, "6 published entries", func() bool { return len(sink.snapshot()) == 6 })

	entries := sink.snapshot()
	requireSeqOrder(t, entries)

	// The global order must preserve each source's dispatch order.
	var micTexts, systemTexts []string
	for _, e := range entries {
		if e.IsGap() {
			t.Fatalf("unexpected gap marker %+v", e)
		}
		switch e.Source {
		case audio.SourceMicrophone:
			micTexts = append(micTexts, e.OriginalText)
		case audio.SourceSystem:
			systemTexts = append(systemTexts, e.OriginalText)
		}
	}
	wantMic := []string{"microphone-1", "microphone-13", "microphone-25"}
	wantSystem := []string{"system-1", "system-13", "system-25"}
	for i := range wantMic {
		if len(micTexts) <= i || micTexts[i] != wantMic[i] {
			t.Fatalf("microphone entries out of order: %v", micTexts)
		}
		if len(systemTexts) <= i || systemTexts[i] != wantSystem[i] {
			t.Fatalf("system entries out of order: %v", systemTexts)
		}
	}

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(rec.Entries) != 6 || rec.GapCount() != 0 {
		t.Errorf("unexpected recording: %d entries, %d gaps", len(rec.Entries), rec.GapCount())
	}
}

func TestCoordinatorPublishesGapOnPermanentFailure(t *testing.T) {
	pattern := "vvvvvvvvssss"
	source := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern+pattern+pattern, 1, testStart)},
	}
	tr := newFakeTranslator()
	tr.failKey = "microphone-13"
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
		ReopenAttempts: 1,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "3 published entries", func() bool { return len(sink.snapshot()) == 3 })

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	entries := sink.snapshot()
	requireSeqOrder(t, entries)
	if entries[0].IsGap() || entries[2].IsGap() {
		t.Errorf("unexpected gap markers: %+v", entries)
	}
	if !entries[1].IsGap() || entries[1].GapReason != GapTranslationFailed {
		t.Errorf("expected translation_failed gap at seq 2, got %+v", entries[1])
	}
	if entries[1].StartTime.IsZero() || entries[1].EndTime.IsZero() {
		t.Error("gap marker must carry the segment time range")
	}
	if rec.GapCount() != 1 {
		t.Errorf("recording has %d gaps", rec.GapCount())
	}
}

func TestCoordinatorReopensFailedSource(t *testing.T) {
	pattern := "vvvvvvvvssss"
	source := &fakeSource{
		label: audio.SourceMicrophone,
		batches: [][]audio.Frame{
			frameBatch(audio.SourceMicrophone, pattern, 1, testStart),
			frameBatch(audio.SourceMicrophone, pattern, 100, testStart.Add(time.Second)),
		},
		errs: []error{
			&capture.DeviceError{Source: audio.SourceMicrophone, Err: fmt.Errorf("device unplugged")},
			nil,
		},
	}
	tr := newFakeTranslator()
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
		ReopenAttempts: 3,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "2 published entries", func() bool { return len(sink.snapshot()) == 2 })

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if source.openCount() < 2 {
		t.Errorf("expected source to be reopened, opens=%d", source.openCount())
	}
	if len(rec.DegradedSources) != 0 {
		t.Errorf("source recovered but was marked degraded: %v", rec.DegradedSources)
	}
	entries := sink.snapshot()
	requireSeqOrder(t, entries)
	if entries[1].OriginalText != "microphone-100" {
		t.Errorf("segment after reopen missing: %+v", entries[1])
	}
}

func TestCoordinatorStopsWhenAllSourcesDegrade(t *testing.T) {
	pattern := "vvvvvvvvssss"
	source := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern, 1, testStart)},
		errs: []error{
			&capture.DeviceError{Source: audio.SourceMicrophone, Err: fmt.Errorf("device gone")},
		},
	}
	tr := newFakeTranslator()
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
		ReopenAttempts: 0,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "auto-stop after degradation", func() bool { return c.State() == StateStopped })

	rec, ok := c.Recording()
	if !ok {
		t.Fatal("no recording after auto-stop")
	}
	if len(rec.DegradedSources) != 1 || rec.DegradedSources[0] != audio.SourceMicrophone {
		t.Errorf("unexpected degraded sources %v", rec.DegradedSources)
	}
	if len(rec.Entries) != 1 {
		t.Errorf("pre-failure segment lost: %d entries", len(rec.Entries))
	}

	// Stop after auto-stop returns the same recording.
	again, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop after auto-stop failed: %v", err)
	}
	if again.ID != rec.ID {
		t.Error("Stop returned a different recording")
	}
}

func TestCoordinatorDrainTimeoutEmitsShutdownGaps(t *testing.T) {
	pattern := "vvvvvvvvssss"
	source := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern+pattern, 1, testStart)},
	}
	tr := newFakeTranslator()
	tr.holdAll = true
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
		DrainTimeout:   50 * time.Millisecond,
		ReopenAttempts: 1,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "2 translation calls", func() bool { return tr.callCount() == 2 })

	// The first call completes within the drain window; the second one
	// never does and must become a shutdown gap.
	tr.releaseSegment("microphone-1")

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(rec.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(rec.Entries))
	}
	if rec.Entries[0].IsGap() {
		t.Errorf("completed call recorded as gap: %+v", rec.Entries[0])
	}
	if rec.Entries[1].GapReason != GapShutdown {
		t.Errorf("expected shutdown gap, got %+v", rec.Entries[1])
	}
}

func TestCoordinatorDrainsWithinWindow(t *testing.T) {
	pattern := "vvvvvvvvssss"
	source := &fakeSource{
		label:   audio.SourceMicrophone,
		batches: [][]audio.Frame{frameBatch(audio.SourceMicrophone, pattern, 1, testStart)},
	}
	tr := newFakeTranslator()
	tr.holdAll = true
	sink := &recorderSink{}

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
		DrainTimeout:   5 * time.Second,
		ReopenAttempts: 1,
		ReopenBackoff:  time.Millisecond,
	}, tr, sink)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "1 translation call", func() bool { return tr.callCount() == 1 })

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.releaseSegment("microphone-1")
	}()

	rec, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(rec.Entries) != 1 || rec.Entries[0].IsGap() {
		t.Errorf("late completion within drain window was not recorded: %+v", rec.Entries)
	}
}

func TestCoordinatorLifecycleErrors(t *testing.T) {
	source := &fakeSource{label: audio.SourceMicrophone}
	tr := newFakeTranslator()

	c := newTestCoordinator(t, Config{
		Sources:        []SourceConfig{{Source: source, Language: "de", Segmenter: testSegmenterConfig()}},
		TargetLanguage: "en",
	}, tr)

	if c.State() != StateIdle {
		t.Errorf("new coordinator in state %q", c.State())
	}

	// Stop before Start must fail immediately rather than wait on a run
	// loop that was never launched.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if _, err := c.Stop(stopCtx); err == nil {
		t.Fatal("Stop before Start should fail")
	}
	if stopCtx.Err() != nil {
		t.Error("Stop before Start blocked until the context deadline")
	}

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := c.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("state after Stop is %q", c.State())
	}
	if _, err := c.Start(context.Background()); err == nil {
		t.Error("Start after Stop should fail")
	}

	status := c.GetStatus()
	if status.State != StateStopped || status.InFlight != 0 {
		t.Errorf("unexpected status %+v", status)
	}
}
