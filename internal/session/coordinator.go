package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
	"github.com/skypro1111/meeting-translate-service/internal/metrics"
	"github.com/skypro1111/meeting-translate-service/internal/recording"
	"github.com/skypro1111/meeting-translate-service/internal/translation"
)

// State is the coordinator lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

// Gap reasons attached to entries that carry no text.
const (
	GapTranslationFailed = "translation_failed"
	GapShutdown          = "shutdown"
)

// Translator performs one speech-to-translation call for a segment.
type Translator interface {
	Translate(ctx context.Context, req translation.Request) (*translation.Result, error)
}

// Source is the capture device contract the coordinator runs against.
// *capture.CommandSource and *capture.ReaderSource satisfy it.
type Source interface {
	Label() audio.SourceLabel
	Open(ctx context.Context) (<-chan audio.Frame, error)
	Close() error
	Err() error
}

// SourceConfig binds one capture source to its segmentation parameters and
// a language hint for transcription.
type SourceConfig struct {
	Source    Source
	Language  string
	Segmenter audio.SegmenterConfig
}

// Config contains coordinator configuration.
type Config struct {
	Sources        []SourceConfig
	TargetLanguage string

	// DrainTimeout bounds how long Stop waits for in-flight translation
	// calls before converting them to shutdown gap markers.
	DrainTimeout time.Duration

	// ReopenAttempts is the consecutive reopen budget per source before it
	// is declared degraded. ReopenBackoff is the pause between attempts.
	ReopenAttempts int
	ReopenBackoff  time.Duration
}

// Status is a snapshot of the coordinator for monitoring APIs.
type Status struct {
	State          State               `json:"state"`
	MeetingID      uuid.UUID           `json:"meeting_id,omitempty"`
	StartedAt      time.Time           `json:"started_at,omitempty"`
	Dispatched     uint64              `json:"dispatched"`
	Published      uint64              `json:"published"`
	Gaps           uint64              `json:"gaps"`
	InFlight       int                 `json:"in_flight"`
	ReorderPending int                 `json:"reorder_pending"`
	Degraded       []audio.SourceLabel `json:"degraded_sources,omitempty"`
}

// Coordinator drives one meeting session. All pipeline state lives on a
// single run-loop goroutine; runners and call goroutines communicate with it
// through the events channel only.
type Coordinator struct {
	config     Config
	translator Translator
	sinks      []Sink
	metrics    *metrics.Metrics

	events   chan any
	finished chan struct{}

	// Loop-owned state, exposed externally only through the status mutex.
	state         State
	meetingID     uuid.UUID
	startedAt     time.Time
	nextSeq       uint64
	nextPublish   uint64
	gaps          uint64
	pending       map[uint64]recording.Entry
	outstanding   map[uint64]callInfo
	assembler     *recording.Assembler
	degraded      map[audio.SourceLabel]bool
	stopReplies   []chan stopResult
	runnersExited bool
	drainExpired  bool

	runnerWG     sync.WaitGroup
	runnerCancel context.CancelFunc
	runnersDone  chan struct{}
	drainC       <-chan time.Time
	drainTimer   *time.Timer

	callsCtx    context.Context
	callsCancel context.CancelFunc

	statusMu sync.RWMutex
	status   Status
	final    *recording.MeetingRecording
}

// callInfo remembers what was dispatched so an abandoned call can still be
// turned into a gap marker carrying the segment's time range.
type callInfo struct {
	source   audio.SourceLabel
	start    time.Time
	end      time.Time
	language string
}

type segmentEvent struct {
	language string
	segment  *audio.Segment
}

type callDoneEvent struct {
	seq   uint64
	entry recording.Entry
}

type degradedEvent struct {
	source audio.SourceLabel
}

type stopEvent struct {
	reply chan stopResult
}

type stopResult struct {
	rec *recording.MeetingRecording
	err error
}

// NewCoordinator creates an idle coordinator. A nil metrics value disables
// instrumentation.
func NewCoordinator(config Config, translator Translator, m *metrics.Metrics, sinks ...Sink) (*Coordinator, error) {
	if len(config.Sources) == 0 {
		return nil, fmt.Errorf("at least one audio source is required")
	}
	if translator == nil {
		return nil, fmt.Errorf("translator is required")
	}

	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 10 * time.Second
	}
	if config.ReopenBackoff <= 0 {
		config.ReopenBackoff = 500 * time.Millisecond
	}

	return &Coordinator{
		config:      config,
		translator:  translator,
		sinks:       sinks,
		metrics:     m,
		events:      make(chan any, 64),
		finished:    make(chan struct{}),
		state:       StateIdle,
		nextSeq:     1,
		nextPublish: 1,
		pending:     make(map[uint64]recording.Entry),
		outstanding: make(map[uint64]callInfo),
		degraded:    make(map[audio.SourceLabel]bool),
		runnersDone: make(chan struct{}),
		status:      Status{State: StateIdle},
	}, nil
}

// Start transitions Idle to Recording: it opens every source, starts the
// run loop and returns the meeting ID.
func (c *Coordinator) Start(ctx context.Context) (uuid.UUID, error) {
	c.statusMu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.statusMu.Unlock()
		return uuid.Nil, fmt.Errorf("cannot start session in state %q", state)
	}
	c.state = StateRecording
	c.meetingID = uuid.New()
	c.startedAt = time.Now()
	c.status.State = StateRecording
	c.status.MeetingID = c.meetingID
	c.status.StartedAt = c.startedAt
	c.statusMu.Unlock()

	c.assembler = recording.NewAssembler(c.meetingID, c.config.TargetLanguage, c.startedAt)
	c.callsCtx, c.callsCancel = context.WithCancel(context.Background())

	runnerCtx, runnerCancel := context.WithCancel(ctx)
	c.runnerCancel = runnerCancel

	for _, src := range c.config.Sources {
		c.runnerWG.Add(1)
		go c.runSource(runnerCtx, src)
	}
	go func() {
		c.runnerWG.Wait()
		close(c.runnersDone)
	}()
	go c.run()

	c.metrics.RecordStateChange(string(StateRecording))
	slog.Info("Session started",
		"meeting_id", c.meetingID,
		"sources", len(c.config.Sources),
		"target_language", c.config.TargetLanguage)

	return c.meetingID, nil
}

// Stop transitions to Stopping, drains in-flight calls bounded by
// DrainTimeout and returns the finalized recording. Calling Stop on an
// already stopped coordinator returns the same recording.
func (c *Coordinator) Stop(ctx context.Context) (*recording.MeetingRecording, error) {
	select {
	case <-c.finished:
		return c.finalRecording()
	default:
	}

	// Before Start the run loop is not running, so there is nothing to
	// send the stop event to.
	if c.State() == StateIdle {
		return nil, fmt.Errorf("session was never started")
	}

	reply := make(chan stopResult, 1)
	select {
	case c.events <- stopEvent{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.rec, res.err
	case <-c.finished:
		// The run loop exited without consuming our event.
		return c.finalRecording()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.state
}

// GetStatus returns a snapshot for monitoring.
func (c *Coordinator) GetStatus() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()

	status := c.status
	status.Degraded = append([]audio.SourceLabel(nil), c.status.Degraded...)
	return status
}

// Recording returns the finalized recording once the session has stopped.
func (c *Coordinator) Recording() (*recording.MeetingRecording, bool) {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.final, c.final != nil
}

func (c *Coordinator) finalRecording() (*recording.MeetingRecording, error) {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	if c.final == nil {
		return nil, fmt.Errorf("session finished without a recording")
	}
	return c.final, nil
}

// run is the single goroutine that owns all pipeline state.
func (c *Coordinator) run() {
	runnersDone := c.runnersDone

	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)

		case <-runnersDone:
			// All runners exited. In Recording this means every source is
			// gone or the parent context was canceled, so begin stopping.
			runnersDone = nil
			c.runnersExited = true
			if c.state == StateRecording {
				c.beginStopping("sources exhausted")
			}

		case <-c.drainC:
			c.drainC = nil
			c.drainExpired = true
			c.expireOutstanding()
		}

		if c.maybeFinish() {
			return
		}
	}
}

func (c *Coordinator) handleEvent(ev any) {
	switch e := ev.(type) {
	case segmentEvent:
		c.handleSegment(e)
	case callDoneEvent:
		c.handleCallDone(e)
	case degradedEvent:
		c.handleDegraded(e)
	case stopEvent:
		c.handleStop(e)
	}
}

func (c *Coordinator) handleSegment(e segmentEvent) {
	// Segments are accepted while Recording and during the Stopping flush.
	if c.state != StateRecording && c.state != StateStopping {
		return
	}

	seq := c.nextSeq
	c.nextSeq++

	// Past the drain window no new call may be launched; record the flushed
	// segment as a shutdown gap so the sequence stays contiguous.
	if c.drainExpired {
		c.pending[seq] = recording.Entry{
			Seq:       seq,
			Source:    e.segment.Source,
			StartTime: e.segment.StartTime,
			EndTime:   e.segment.EndTime,
			GapReason: GapShutdown,
		}
		c.publishReady()
		return
	}

	c.outstanding[seq] = callInfo{
		source:   e.segment.Source,
		start:    e.segment.StartTime,
		end:      e.segment.EndTime,
		language: e.language,
	}
	c.updateStatus()

	c.metrics.RecordTranslationRequest()
	slog.Debug("Segment dispatched",
		"seq", seq,
		"source", e.segment.Source,
		"duration", e.segment.Duration())

	go c.translate(seq, e)
}

func (c *Coordinator) translate(seq uint64, e segmentEvent) {
	startTime := time.Now()

	entry := recording.Entry{
		Seq:            seq,
		Source:         e.segment.Source,
		StartTime:      e.segment.StartTime,
		EndTime:        e.segment.EndTime,
		SourceLanguage: e.language,
		TargetLanguage: c.config.TargetLanguage,
	}

	result, err := c.translator.Translate(c.callsCtx, translation.Request{
		Segment:        e.segment,
		SourceLanguage: e.language,
		TargetLanguage: c.config.TargetLanguage,
	})
	if err != nil {
		c.metrics.RecordTranslationFailure(time.Since(startTime).Seconds())
		slog.Error("Translation failed",
			"seq", seq,
			"source", e.segment.Source,
			"error", err)
		entry.GapReason = GapTranslationFailed
		entry.SourceLanguage = ""
		entry.TargetLanguage = ""
	} else {
		c.metrics.RecordTranslationSuccess(time.Since(startTime).Seconds())
		entry.OriginalText = result.OriginalText
		entry.TranslatedText = result.TranslatedText
	}

	select {
	case c.events <- callDoneEvent{seq: seq, entry: entry}:
	case <-c.finished:
	}
}

func (c *Coordinator) handleCallDone(e callDoneEvent) {
	if _, ok := c.outstanding[e.seq]; !ok {
		// Already expired into a shutdown gap, or a duplicate.
		return
	}
	delete(c.outstanding, e.seq)
	c.pending[e.seq] = e.entry
	c.publishReady()
}

// publishReady publishes every consecutive entry starting at nextPublish.
func (c *Coordinator) publishReady() {
	for {
		entry, ok := c.pending[c.nextPublish]
		if !ok {
			break
		}
		delete(c.pending, c.nextPublish)
		c.nextPublish++
		c.publish(entry)
	}
	c.metrics.SetReorderBufferSize(len(c.pending))
	c.updateStatus()
}

func (c *Coordinator) publish(entry recording.Entry) {
	if err := c.assembler.Append(entry); err != nil {
		slog.Error("Failed to append entry to recording", "seq", entry.Seq, "error", err)
	}
	for _, sink := range c.sinks {
		sink.Publish(entry)
	}

	c.metrics.RecordEntryPublished()
	if entry.IsGap() {
		c.gaps++
		c.metrics.RecordGapMarker(entry.GapReason)
	}
}

func (c *Coordinator) handleDegraded(e degradedEvent) {
	if c.degraded[e.source] {
		return
	}
	c.degraded[e.source] = true
	c.assembler.MarkDegraded(e.source)
	c.metrics.RecordSourceDegraded(string(e.source))
	c.updateStatus()

	slog.Warn("Audio source degraded", "source", e.source)

	if c.state == StateRecording && len(c.degraded) == len(c.config.Sources) {
		slog.Warn("All audio sources degraded, stopping session")
		c.beginStopping("all sources degraded")
	}
}

func (c *Coordinator) handleStop(e stopEvent) {
	switch c.state {
	case StateRecording:
		c.stopReplies = append(c.stopReplies, e.reply)
		c.beginStopping("stop requested")
	case StateStopping:
		c.stopReplies = append(c.stopReplies, e.reply)
	case StateStopped:
		rec, err := c.finalRecording()
		e.reply <- stopResult{rec: rec, err: err}
	}
}

func (c *Coordinator) beginStopping(reason string) {
	c.setState(StateStopping)
	slog.Info("Session stopping",
		"meeting_id", c.meetingID,
		"reason", reason,
		"in_flight", len(c.outstanding))

	// Runners flush their final partial segments on cancellation; those
	// segments still arrive and are dispatched before runnersDone closes.
	c.runnerCancel()

	c.drainTimer = time.NewTimer(c.config.DrainTimeout)
	c.drainC = c.drainTimer.C
}

// expireOutstanding converts every call still in flight after the drain
// window into a shutdown gap marker so the recording stays contiguous.
func (c *Coordinator) expireOutstanding() {
	if len(c.outstanding) > 0 {
		slog.Warn("Drain timeout reached, abandoning in-flight calls",
			"abandoned", len(c.outstanding))
	}

	for seq, info := range c.outstanding {
		delete(c.outstanding, seq)
		c.pending[seq] = recording.Entry{
			Seq:       seq,
			Source:    info.source,
			StartTime: info.start,
			EndTime:   info.end,
			GapReason: GapShutdown,
		}
	}
	c.publishReady()
}

// maybeFinish completes the stop sequence once the runners have exited and
// no call is outstanding. Returns true when the run loop should exit.
func (c *Coordinator) maybeFinish() bool {
	if c.state != StateStopping || !c.runnersExited {
		return false
	}

	// Flushed segments may still sit behind other events in the queue;
	// process everything already buffered before deciding.
	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		default:
			if len(c.outstanding) > 0 {
				return false
			}
			c.finish()
			return true
		}
	}
}

func (c *Coordinator) finish() {
	if c.drainTimer != nil {
		c.drainTimer.Stop()
	}
	c.callsCancel()
	c.publishReady()

	rec, err := c.assembler.Finalize(time.Now())
	if err != nil {
		slog.Error("Failed to finalize recording", "error", err)
	}

	c.statusMu.Lock()
	c.state = StateStopped
	c.status.State = StateStopped
	c.final = rec
	c.statusMu.Unlock()
	c.metrics.RecordStateChange(string(StateStopped))

	for _, reply := range c.stopReplies {
		reply <- stopResult{rec: rec, err: err}
	}
	c.stopReplies = nil
	close(c.finished)

	slog.Info("Session stopped",
		"meeting_id", c.meetingID,
		"published", c.nextPublish-1,
		"gaps", c.gaps,
		"duration", time.Since(c.startedAt))
}

func (c *Coordinator) setState(state State) {
	c.statusMu.Lock()
	c.state = state
	c.status.State = state
	c.statusMu.Unlock()
	c.metrics.RecordStateChange(string(state))
}

func (c *Coordinator) updateStatus() {
	degraded := make([]audio.SourceLabel, 0, len(c.degraded))
	for source := range c.degraded {
		degraded = append(degraded, source)
	}

	c.statusMu.Lock()
	c.status.Dispatched = c.nextSeq - 1
	c.status.Published = c.nextPublish - 1
	c.status.Gaps = c.gaps
	c.status.InFlight = len(c.outstanding)
	c.status.ReorderPending = len(c.pending)
	c.status.Degraded = degraded
	c.statusMu.Unlock()
}
