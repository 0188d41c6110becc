package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"weave/pkg/domain"
)

// Liveness thresholds. A session whose heartbeat is older than the
// unresponsive threshold is flagged; older than the stale threshold it
// is declared stopped for good.
const (
	DefaultUnresponsiveAfter = 25 * time.Second
	DefaultStaleAfter        = 60 * time.Second

	// Environment overrides, read on every sweep so a long-lived daemon
	// picks up changes without restarting.
	EnvUnresponsiveSecs = "WEAVE_SESSIOND_UNRESPONSIVE_SECS"
	EnvStaleSecs        = "WEAVE_SESSIOND_STALE_SECS"
)

// Registry owns every SessionRecord in the process. All mutation happens
// under one mutex, and the registry file is written before the mutex is
// released, so no reader can observe a record whose disk write has not
// been issued.
type Registry struct {
	mu      sync.Mutex
	records map[domain.WorkflowID]*SessionRecord
	path    string

	nowFunc func() time.Time
}

// NewRegistry returns a registry persisted at path. Records present in
// an existing file are reloaded as Stopped: whatever processes wrote
// them did not survive the daemon they registered with.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		records: make(map[domain.WorkflowID]*SessionRecord),
		path:    path,
		nowFunc: time.Now,
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read registry file: %w", err)
	}
	var records []SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode registry file: %w", err)
	}
	for i := range records {
		rec := records[i]
		rec.Liveness = LivenessStopped
		r.records[rec.SessionID] = &rec
	}
	return nil
}

// Register adds a session. Re-registering the same id from the same pid
// refreshes the record in place; a different pid is rejected while the
// existing record is not stopped.
func (r *Registry) Register(rec SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	if existing, ok := r.records[rec.SessionID]; ok {
		if existing.PID != rec.PID && existing.Liveness != LivenessStopped {
			return &AlreadyRegisteredError{SessionID: rec.SessionID, ExistingPID: existing.PID}
		}
	}

	rec.UpdatedAt = now
	rec.Touch(now)
	r.records[rec.SessionID] = &rec
	return r.persistLocked()
}

// Heartbeat refreshes a session's liveness clock. It touches only the
// heartbeat state, never the workflow state fields.
func (r *Registry) Heartbeat(id domain.WorkflowID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return &SessionNotFoundError{SessionID: id}
	}
	rec.Touch(r.nowFunc())
	return r.persistLocked()
}

// Update applies a workflow state push from the owning process. An
// unknown id is upserted: the daemon may have lost its registry file
// since the session registered, and a live session's push must not
// fail permanently.
func (r *Registry) Update(id domain.WorkflowID, phase domain.Phase, iteration domain.Iteration, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &SessionRecord{SessionID: id}
		r.records[id] = rec
	}
	rec.UpdateState(phase, iteration, status, r.nowFunc())
	return r.persistLocked()
}

// ForceStop marks a session Stopped regardless of its heartbeat.
func (r *Registry) ForceStop(id domain.WorkflowID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return &SessionNotFoundError{SessionID: id}
	}
	rec.Liveness = LivenessStopped
	rec.UpdatedAt = r.nowFunc()
	return r.persistLocked()
}

// Get returns a copy of one record.
func (r *Registry) Get(id domain.WorkflowID) (SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return SessionRecord{}, &SessionNotFoundError{SessionID: id}
	}
	return *rec, nil
}

// List returns copies of every record, ordered by session id for stable
// output.
func (r *Registry) List() []SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Sweep reclassifies liveness from heartbeat age and returns the ids
// whose classification changed. Stopped records are terminal and are
// never reclassified.
func (r *Registry) Sweep() ([]domain.WorkflowID, error) {
	unresponsiveAfter := durationFromEnv(EnvUnresponsiveSecs, DefaultUnresponsiveAfter)
	staleAfter := durationFromEnv(EnvStaleSecs, DefaultStaleAfter)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	var changed []domain.WorkflowID
	for id, rec := range r.records {
		if rec.Liveness == LivenessStopped {
			continue
		}
		elapsed := now.Sub(rec.LastHeartbeat)
		next := rec.Liveness
		switch {
		case elapsed > staleAfter:
			next = LivenessStopped
		case elapsed > unresponsiveAfter:
			next = LivenessUnresponsive
		default:
			next = LivenessRunning
		}
		if next != rec.Liveness {
			rec.Liveness = next
			changed = append(changed, id)
		}
	}

	if len(changed) == 0 {
		return nil, nil
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed, r.persistLocked()
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || secs == 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// persistLocked writes the registry file while still holding the mutex.
func (r *Registry) persistLocked() error {
	records := make([]SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
