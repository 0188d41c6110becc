// Package eventstore persists workflow events as per-aggregate
// append-only JSONL logs with periodic snapshots to bound replay cost.
package eventstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"weave/pkg/domain"
	"weave/pkg/workflow"
)

// maxEventLine bounds a single log line during scans. Events carrying
// large feedback bodies stay well under this.
const maxEventLine = 4 << 20

// StoredEvent is one line of the event log.
type StoredEvent struct {
	AggregateID domain.WorkflowID `json:"aggregate_id"`
	Sequence    uint64            `json:"sequence"`
	RecordedAt  time.Time         `json:"recorded_at"`
	Payload     workflow.Event    `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// StoredSnapshot is the snapshot file contents: the full aggregate state
// and the sequence it was taken at.
type StoredSnapshot struct {
	State    *workflow.WorkflowData `json:"state"`
	Sequence uint64                 `json:"sequence"`
}

// Store reads and writes one directory of per-aggregate logs. There is
// exactly one logical writer per aggregate (the session's actor), so the
// store itself takes no locks.
type Store struct {
	dir           string
	snapshotEvery uint64

	nowFunc func() time.Time
}

// DefaultSnapshotEvery is the snapshot cadence used when none is
// configured.
const DefaultSnapshotEvery = 20

// New returns a store rooted at dir, snapshotting every snapshotEvery
// events. snapshotEvery of zero disables snapshots.
func New(dir string, snapshotEvery uint64) *Store {
	return &Store{
		dir:           dir,
		snapshotEvery: snapshotEvery,
		nowFunc:       time.Now,
	}
}

func (s *Store) logPath(id domain.WorkflowID) string {
	return filepath.Join(s.dir, id.String()+".events.jsonl")
}

func (s *Store) snapshotPath(id domain.WorkflowID) string {
	return filepath.Join(s.dir, id.String()+".snapshot.json")
}

// LastSequence returns the highest persisted sequence for the aggregate,
// zero when no events exist.
func (s *Store) LastSequence(id domain.WorkflowID) (uint64, error) {
	f, err := os.Open(s.logPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &workflow.StorageError{Op: "open event log", Err: err}
	}
	defer f.Close()

	var last uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		var rec StoredEvent
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return 0, &workflow.StorageError{Op: "decode event log", Err: err}
		}
		last = rec.Sequence
	}
	if err := scanner.Err(); err != nil {
		return 0, &workflow.StorageError{Op: "scan event log", Err: err}
	}
	return last, nil
}

// Append writes events to the aggregate's log with sequence numbers
// continuing from expected. It fails with a ConflictError when the log
// has advanced past expected, leaving the log untouched.
func (s *Store) Append(id domain.WorkflowID, expected uint64, events []workflow.Event, metadata map[string]string) ([]StoredEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	last, err := s.LastSequence(id)
	if err != nil {
		return nil, err
	}
	if last != expected {
		return nil, &workflow.ConflictError{AggregateID: id, Expected: expected, Found: last}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &workflow.StorageError{Op: "create store dir", Err: err}
	}
	f, err := os.OpenFile(s.logPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &workflow.StorageError{Op: "open event log", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &workflow.StorageError{Op: "stat event log", Err: err}
	}
	goodSize := info.Size()

	now := s.nowFunc()
	stored := make([]StoredEvent, 0, len(events))
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i, ev := range events {
		rec := StoredEvent{
			AggregateID: id,
			Sequence:    last + uint64(i) + 1,
			RecordedAt:  now,
			Payload:     ev,
			Metadata:    metadata,
		}
		if err := enc.Encode(rec); err != nil {
			_ = f.Truncate(goodSize)
			return nil, &workflow.StorageError{Op: "encode event", Err: err}
		}
		stored = append(stored, rec)
	}
	// A failure past encoding may have left part of the batch in the
	// file while the caller's in-memory sequence is still at expected.
	// Truncating back to the pre-batch size keeps the log and the
	// sequence consistent, so a retry does not hit a permanent conflict.
	if err := w.Flush(); err != nil {
		_ = f.Truncate(goodSize)
		return nil, &workflow.StorageError{Op: "flush event log", Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(goodSize)
		return nil, &workflow.StorageError{Op: "sync event log", Err: err}
	}
	return stored, nil
}

// ReadEvents returns every stored event with sequence greater than
// after, in log order.
func (s *Store) ReadEvents(id domain.WorkflowID, after uint64) ([]StoredEvent, error) {
	f, err := os.Open(s.logPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &workflow.StorageError{Op: "open event log", Err: err}
	}
	defer f.Close()

	var out []StoredEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		var rec StoredEvent
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, &workflow.StorageError{Op: "decode event log", Err: err}
		}
		if rec.Sequence > after {
			out = append(out, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &workflow.StorageError{Op: "scan event log", Err: err}
	}
	return out, nil
}

// LoadAggregate rebuilds the aggregate: most recent snapshot first, then
// replay of every later event. The result is identical to a full
// from-scratch replay.
func (s *Store) LoadAggregate(id domain.WorkflowID) (*workflow.Aggregate, uint64, error) {
	agg := workflow.NewAggregate()
	var seq uint64

	snap, err := s.loadSnapshot(id)
	if err != nil {
		return nil, 0, err
	}
	if snap != nil {
		agg.Data = snap.State
		seq = snap.Sequence
	}

	events, err := s.ReadEvents(id, seq)
	if err != nil {
		return nil, 0, err
	}
	for _, rec := range events {
		agg.Apply(rec.Payload)
		seq = rec.Sequence
	}
	return agg, seq, nil
}

func (s *Store) loadSnapshot(id domain.WorkflowID) (*StoredSnapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &workflow.StorageError{Op: "read snapshot", Err: err}
	}
	var snap StoredSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &workflow.StorageError{Op: "decode snapshot", Err: err}
	}
	return &snap, nil
}

// SaveSnapshot atomically replaces the aggregate's snapshot via a temp
// file and rename, so a crash never leaves a torn snapshot.
func (s *Store) SaveSnapshot(id domain.WorkflowID, agg *workflow.Aggregate, sequence uint64) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &workflow.StorageError{Op: "create store dir", Err: err}
	}
	data, err := json.Marshal(StoredSnapshot{State: agg.Data, Sequence: sequence})
	if err != nil {
		return &workflow.StorageError{Op: "encode snapshot", Err: err}
	}

	final := s.snapshotPath(id)
	tmp := fmt.Sprintf("%s.tmp.%d", final, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &workflow.StorageError{Op: "write snapshot", Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &workflow.StorageError{Op: "rename snapshot", Err: err}
	}
	return nil
}

// ShouldSnapshot reports whether sequence lands on the snapshot cadence.
func (s *Store) ShouldSnapshot(sequence uint64) bool {
	return s.snapshotEvery > 0 && sequence%s.snapshotEvery == 0
}
