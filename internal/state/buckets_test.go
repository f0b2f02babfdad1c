package state

import (
	"fmt"
	"testing"
	"time"

	"grimm.is/netstate/internal/errors"
)

func TestCheckpointBucket(t *testing.T) {
	store := newMemStore(t, nil)

	bucket, err := NewCheckpointBucket(store)
	if err != nil {
		t.Fatalf("failed to create checkpoint bucket: %v", err)
	}
	// A second accessor reuses the bucket.
	if _, err := NewCheckpointBucket(store); err != nil {
		t.Fatalf("reopening bucket: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := &CheckpointRecord{ID: "b", CreatedAt: base.Add(time.Minute), Deadline: base.Add(2 * time.Minute), Snapshot: "interfaces: []\n"}
	older := &CheckpointRecord{ID: "a", CreatedAt: base, Deadline: base.Add(time.Minute)}
	for _, rec := range []*CheckpointRecord{newer, older} {
		if err := bucket.Set(rec); err != nil {
			t.Fatalf("failed to set %s: %v", rec.ID, err)
		}
	}

	got, err := bucket.Get("b")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.Snapshot != newer.Snapshot || !got.Deadline.Equal(newer.Deadline) {
		t.Errorf("wrong record: %+v", got)
	}

	list, err := bucket.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("expected [a b] oldest first, got %v", list)
	}

	if !older.Expired(base.Add(time.Minute)) || older.Expired(base) {
		t.Error("Expired boundary is wrong")
	}

	if err := bucket.Delete("a"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := bucket.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryBucketPrunes(t *testing.T) {
	store := newMemStore(t, nil)

	history, err := NewHistoryBucket(store, 3)
	if err != nil {
		t.Fatalf("failed to create history bucket: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := history.Append(&HistoryRecord{Result: "success", Summary: fmt.Sprintf("run %d", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recs, err := history.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"run 2", "run 3", "run 4"} {
		if recs[i].Summary != want {
			t.Errorf("record %d: expected %q, got %q", i, want, recs[i].Summary)
		}
	}
	if recs[0].Sequence >= recs[1].Sequence {
		t.Errorf("sequence not increasing: %d, %d", recs[0].Sequence, recs[1].Sequence)
	}
}

func TestHistoryKeyOrdersLexically(t *testing.T) {
	if historyKey(9) >= historyKey(10) {
		t.Errorf("%s should sort before %s", historyKey(9), historyKey(10))
	}
}
