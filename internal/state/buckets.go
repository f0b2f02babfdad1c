package state

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"grimm.is/netstate/internal/errors"
)

// Standard bucket names
const (
	BucketCheckpoints = "checkpoints"
	BucketHistory     = "history"
)

// CheckpointRecord is a live checkpoint: the state captured before an apply
// and the deadline after which it rolls back on its own.
type CheckpointRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
	// Snapshot is the YAML document of the captured state.
	Snapshot string `json:"snapshot"`
}

// Expired reports whether the deadline has passed at now.
func (r *CheckpointRecord) Expired(now time.Time) bool {
	return !now.Before(r.Deadline)
}

// CheckpointBucket provides typed access to checkpoints.
type CheckpointBucket struct {
	store  Store
	bucket string
}

// NewCheckpointBucket creates a new checkpoint bucket accessor.
func NewCheckpointBucket(store Store) (*CheckpointBucket, error) {
	if err := ensureBucket(store, BucketCheckpoints); err != nil {
		return nil, err
	}
	return &CheckpointBucket{store: store, bucket: BucketCheckpoints}, nil
}

// Get retrieves a checkpoint by id.
func (b *CheckpointBucket) Get(id string) (*CheckpointRecord, error) {
	var rec CheckpointRecord
	if err := b.store.GetJSON(b.bucket, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Set stores a checkpoint. Records do not expire in the store; an expired
// checkpoint must still be found so it can be rolled back.
func (b *CheckpointBucket) Set(rec *CheckpointRecord) error {
	return b.store.SetJSON(b.bucket, rec.ID, rec)
}

// Delete removes a checkpoint.
func (b *CheckpointBucket) Delete(id string) error {
	return b.store.Delete(b.bucket, id)
}

// List returns all checkpoints, oldest first.
func (b *CheckpointBucket) List() ([]*CheckpointRecord, error) {
	data, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}
	recs := make([]*CheckpointRecord, 0, len(data))
	for _, v := range data {
		var rec CheckpointRecord
		if err := unmarshalJSON(v, &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// HistoryRecord describes one finished apply.
type HistoryRecord struct {
	Sequence   uint64        `json:"sequence"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Result     string        `json:"result"`
	Checkpoint string        `json:"checkpoint,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// HistoryBucket keeps the most recent apply records.
type HistoryBucket struct {
	store  Store
	bucket string
	keep   int
}

// DefaultHistoryDepth is how many records a HistoryBucket keeps.
const DefaultHistoryDepth = 100

// NewHistoryBucket creates a history accessor keeping at most keep records.
func NewHistoryBucket(store Store, keep int) (*HistoryBucket, error) {
	if err := ensureBucket(store, BucketHistory); err != nil {
		return nil, err
	}
	if keep <= 0 {
		keep = DefaultHistoryDepth
	}
	return &HistoryBucket{store: store, bucket: BucketHistory, keep: keep}, nil
}

// Append stores rec under the next sequence number and prunes old records.
func (b *HistoryBucket) Append(rec *HistoryRecord) error {
	rec.Sequence = b.store.CurrentVersion() + 1
	if err := b.store.SetJSON(b.bucket, historyKey(rec.Sequence), rec); err != nil {
		return err
	}
	keys, err := b.store.ListKeys(b.bucket)
	if err != nil {
		return err
	}
	for len(keys) > b.keep {
		if err := b.store.Delete(b.bucket, keys[0]); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

// List returns the kept records, oldest first.
func (b *HistoryBucket) List() ([]*HistoryRecord, error) {
	data, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}
	recs := make([]*HistoryRecord, 0, len(data))
	for _, v := range data {
		var rec HistoryRecord
		if err := unmarshalJSON(v, &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Sequence < recs[j].Sequence })
	return recs, nil
}

// historyKey zero-pads so lexical key order is sequence order.
func historyKey(seq uint64) string {
	s := strconv.FormatUint(seq, 10)
	for len(s) < 20 {
		s = "0" + s
	}
	return s
}

func ensureBucket(store Store, name string) error {
	if err := store.CreateBucket(name); err != nil && !errors.Is(err, ErrBucketExists) {
		return err
	}
	return nil
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}
