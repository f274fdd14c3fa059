package recording

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStoreSaveLoadList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	a := NewAssembler(uuid.New(), "en", testStart)
	if err := a.Append(testEntry(1, "hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	rec, err := a.Finalize(testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(rec.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ID != rec.ID || loaded.MeetingID != rec.MeetingID {
		t.Errorf("loaded recording does not match: %v vs %v", loaded.ID, rec.ID)
	}
	if len(loaded.Entries) != 1 || loaded.Entries[0].OriginalText != "hello" {
		t.Errorf("unexpected entries %+v", loaded.Entries)
	}
	if !loaded.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("started time mismatch: %v vs %v", loaded.StartedAt, rec.StartedAt)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("unexpected listing %v", ids)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Load(uuid.New()); err == nil {
		t.Error("expected error for missing recording")
	}
}

func TestStoreListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if _, err := store.SaveReport(uuid.New(), "# Report"); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("report files must not be listed as recordings: %v", ids)
	}
}
