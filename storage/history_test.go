package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordConcludedAndGet(t *testing.T) {
	store := newTestStore(t)

	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := TransferRecord{
		ID:          "transfer-1",
		Direction:   "export",
		ContentType: "documents",
		Source:      "com.example.notes",
		Destination: "org.example.printer",
		FinalState:  "finalized",
		ItemCount:   3,
		CreatedAt:   created,
		ConcludedAt: created.Add(2 * time.Second),
	}
	if err := store.RecordConcluded(rec); err != nil {
		t.Fatalf("RecordConcluded: %v", err)
	}

	got, err := store.GetRecord("transfer-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Direction != "export" || got.ContentType != "documents" || got.ItemCount != 3 {
		t.Fatalf("record = %+v", got)
	}
	if got.CreatedAt.UnixMilli() != created.UnixMilli() {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, created)
	}
	if got.ConcludedAt.Sub(got.CreatedAt) != 2*time.Second {
		t.Fatalf("conclusion delta = %v", got.ConcludedAt.Sub(got.CreatedAt))
	}
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRecord("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRecord error = %v, want ErrNotFound", err)
	}
}

func TestRecordConcludedValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordConcluded(TransferRecord{Direction: "import", FinalState: "aborted"}); err == nil {
		t.Fatal("expected error without transfer_id")
	}
	if err := store.RecordConcluded(TransferRecord{ID: "x", FinalState: "aborted"}); err == nil {
		t.Fatal("expected error without direction")
	}
	if err := store.RecordConcluded(TransferRecord{ID: "x", Direction: "import"}); err == nil {
		t.Fatal("expected error without final_state")
	}
}

func TestRecordConcludedRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	mustRecord(t, store, "transfer-1", now, "a", "b")
	err := store.RecordConcluded(TransferRecord{
		ID:          "transfer-1",
		Direction:   "import",
		ContentType: "pictures",
		FinalState:  "aborted",
		CreatedAt:   now,
		ConcludedAt: now,
	})
	if err == nil {
		t.Fatal("expected error for duplicate transfer_id")
	}
}

func TestListRecentNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	mustRecord(t, store, "old", base, "a", "b")
	mustRecord(t, store, "mid", base.Add(time.Minute), "a", "b")
	mustRecord(t, store, "new", base.Add(2*time.Minute), "a", "b")

	records, err := store.ListRecent(2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].ID != "new" || records[1].ID != "mid" {
		t.Fatalf("order = %s, %s", records[0].ID, records[1].ID)
	}
}

func TestListForPeerMatchesEitherRole(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	mustRecord(t, store, "as-source", now, "org.example.gallery", "com.example.notes")
	mustRecord(t, store, "as-destination", now.Add(time.Second), "com.example.notes", "org.example.gallery")
	mustRecord(t, store, "unrelated", now.Add(2*time.Second), "a", "b")

	records, err := store.ListForPeer("org.example.gallery", 0)
	if err != nil {
		t.Fatalf("ListForPeer: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].ID != "as-destination" || records[1].ID != "as-source" {
		t.Fatalf("order = %s, %s", records[0].ID, records[1].ID)
	}
}

func TestPruneOlderThan(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mustRecord(t, store, "ancient", base, "a", "b")
	mustRecord(t, store, "old", base.AddDate(0, 0, 7), "a", "b")
	mustRecord(t, store, "fresh", base.AddDate(0, 0, 30), "a", "b")

	pruned, err := store.PruneOlderThan(base.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	records, err := store.ListRecent(0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(records) != 1 || records[0].ID != "fresh" {
		t.Fatalf("remaining = %+v", records)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	dataDir := t.TempDir()
	store, dbPath, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustRecord(t, store, "transfer-1", time.Now(), "a", "b")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if filepath.Dir(dbPath) != dataDir {
		t.Fatalf("db path = %q, want under %q", dbPath, dataDir)
	}

	reopened, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRecord("transfer-1"); err != nil {
		t.Fatalf("GetRecord after reopen: %v", err)
	}
}
