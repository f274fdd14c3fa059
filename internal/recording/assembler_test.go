package recording

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
)

var testStart = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func testEntry(seq uint64, text string) Entry {
	return Entry{
		Seq:            seq,
		Source:         audio.SourceMicrophone,
		StartTime:      testStart.Add(time.Duration(seq) * time.Second),
		EndTime:        testStart.Add(time.Duration(seq+1) * time.Second),
		OriginalText:   text,
		TranslatedText: text + " (en)",
		TargetLanguage: "en",
	}
}

func TestAssemblerAppendIsIdempotent(t *testing.T) {
	a := NewAssembler(uuid.New(), "en", testStart)

	entry := testEntry(1, "hello")
	for i := 0; i < 3; i++ {
		if err := a.Append(entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := a.Append(testEntry(2, "world")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rec, err := a.Finalize(testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(rec.Entries) != 2 {
		t.Fatalf("expected 2 entries after duplicate appends, got %d", len(rec.Entries))
	}
	if rec.Entries[0].Seq != 1 || rec.Entries[1].Seq != 2 {
		t.Errorf("unexpected entry order: %d, %d", rec.Entries[0].Seq, rec.Entries[1].Seq)
	}
}

func TestAssemblerFinalizeOnce(t *testing.T) {
	a := NewAssembler(uuid.New(), "en", testStart)
	if err := a.Append(testEntry(1, "hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	ended := testStart.Add(time.Minute)
	rec, err := a.Finalize(ended)
	if err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}
	if rec.Duration() != time.Minute {
		t.Errorf("unexpected duration %v", rec.Duration())
	}

	if _, err := a.Finalize(ended); err == nil {
		t.Error("second Finalize should fail")
	}
	if err := a.Append(testEntry(2, "late")); err == nil {
		t.Error("Append after Finalize should fail")
	}
	if len(rec.Entries) != 1 {
		t.Errorf("finalized recording changed: %d entries", len(rec.Entries))
	}
}

func TestAssemblerSortsBySeq(t *testing.T) {
	a := NewAssembler(uuid.New(), "en", testStart)
	for _, seq := range []uint64{3, 1, 2} {
		if err := a.Append(testEntry(seq, "x")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	rec, err := a.Finalize(testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	for i, e := range rec.Entries {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
	}
}

func TestAssemblerGapsAndDegraded(t *testing.T) {
	a := NewAssembler(uuid.New(), "en", testStart)
	if err := a.Append(testEntry(1, "ok")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	gap := Entry{Seq: 2, Source: audio.SourceSystem, GapReason: "translation_failed"}
	if err := a.Append(gap); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	a.MarkDegraded(audio.SourceSystem)
	a.MarkDegraded(audio.SourceSystem)

	rec, err := a.Finalize(testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if rec.GapCount() != 1 {
		t.Errorf("expected 1 gap, got %d", rec.GapCount())
	}
	if !rec.Entries[1].IsGap() {
		t.Error("entry 2 should be a gap marker")
	}
	if len(rec.DegradedSources) != 1 || rec.DegradedSources[0] != audio.SourceSystem {
		t.Errorf("unexpected degraded sources %v", rec.DegradedSources)
	}
}
