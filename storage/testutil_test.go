package storage

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustRecord(t *testing.T, store *Store, id string, concludedAt time.Time, source, destination string) {
	t.Helper()

	err := store.RecordConcluded(TransferRecord{
		ID:          id,
		Direction:   "import",
		ContentType: "pictures",
		Source:      source,
		Destination: destination,
		FinalState:  "finalized",
		ItemCount:   1,
		CreatedAt:   concludedAt.Add(-time.Minute),
		ConcludedAt: concludedAt,
	})
	if err != nil {
		t.Fatalf("record transfer %q: %v", id, err)
	}
}
