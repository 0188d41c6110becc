package daemon //nolint:testpackage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"weave/pkg/domain"
)

var testTime = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

const (
	sessionA = domain.WorkflowID("11111111-1111-1111-1111-111111111111")
	sessionB = domain.WorkflowID("22222222-2222-2222-2222-222222222222")
)

func newTestRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()

	now := testTime
	r, err := NewRegistry(filepath.Join(t.TempDir(), "sessions.json"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	r.nowFunc = func() time.Time { return now }
	return r, &now
}

func testRecord(id domain.WorkflowID, pid int) SessionRecord {
	return SessionRecord{
		SessionID:   id,
		FeatureName: "auth-tokens",
		WorkingDir:  "/work/repo",
		Phase:       domain.PhasePlanning,
		Iteration:   1,
		PID:         pid,
	}
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec, err := r.Get(sessionA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Liveness != LivenessRunning {
		t.Fatalf("liveness = %s, want running", rec.Liveness)
	}
	if !rec.LastHeartbeat.Equal(testTime) {
		t.Fatalf("heartbeat = %v, want %v", rec.LastHeartbeat, testTime)
	}
}

func TestRegisterConflictOnDifferentPID(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := r.Register(testRecord(sessionA, 200))
	var already *AlreadyRegisteredError
	if !errors.As(err, &already) {
		t.Fatalf("err = %v, want AlreadyRegisteredError", err)
	}
	if already.ExistingPID != 100 {
		t.Fatalf("existing pid = %d, want 100", already.ExistingPID)
	}

	// Same pid refreshes in place.
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("same-pid re-register: %v", err)
	}
}

func TestRegisterReplacesStoppedRecord(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.ForceStop(sessionA); err != nil {
		t.Fatalf("force stop: %v", err)
	}

	// A stopped record no longer defends its session id.
	if err := r.Register(testRecord(sessionA, 200)); err != nil {
		t.Fatalf("register over stopped: %v", err)
	}
	rec, _ := r.Get(sessionA)
	if rec.PID != 200 || rec.Liveness != LivenessRunning {
		t.Fatalf("record = %+v", rec)
	}
}

func TestLivenessClassification(t *testing.T) {
	t.Parallel()

	r, now := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 26s of silence crosses the 25s unresponsive threshold.
	*now = testTime.Add(26 * time.Second)
	changed, err := r.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(changed) != 1 || changed[0] != sessionA {
		t.Fatalf("changed = %v", changed)
	}
	rec, _ := r.Get(sessionA)
	if rec.Liveness != LivenessUnresponsive {
		t.Fatalf("liveness = %s, want unresponsive", rec.Liveness)
	}

	// 61s crosses the 60s stale threshold.
	*now = testTime.Add(61 * time.Second)
	if _, err := r.Sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	rec, _ = r.Get(sessionA)
	if rec.Liveness != LivenessStopped {
		t.Fatalf("liveness = %s, want stopped", rec.Liveness)
	}

	// Stopped is terminal: a heartbeat-free sweep at a fresh clock must
	// not resurrect it.
	*now = testTime
	if _, err := r.Sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	rec, _ = r.Get(sessionA)
	if rec.Liveness != LivenessStopped {
		t.Fatalf("stopped record reclassified to %s", rec.Liveness)
	}
}

func TestHeartbeatRestoresRunning(t *testing.T) {
	t.Parallel()

	r, now := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	*now = testTime.Add(30 * time.Second)
	if _, err := r.Sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	rec, _ := r.Get(sessionA)
	if rec.Liveness != LivenessUnresponsive {
		t.Fatalf("liveness = %s, want unresponsive", rec.Liveness)
	}
	phaseBefore := rec.Phase

	if err := r.Heartbeat(sessionA); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	rec, _ = r.Get(sessionA)
	if rec.Liveness != LivenessRunning {
		t.Fatalf("liveness = %s, want running after heartbeat", rec.Liveness)
	}
	// Heartbeat touches liveness only, never workflow state.
	if rec.Phase != phaseBefore {
		t.Fatalf("phase changed by heartbeat: %s", rec.Phase)
	}
}

func TestUpdateRefreshesStateAndHeartbeat(t *testing.T) {
	t.Parallel()

	r, now := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	*now = testTime.Add(10 * time.Second)
	if err := r.Update(sessionA, domain.PhaseReviewing, 2, "cycle 2"); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, _ := r.Get(sessionA)
	if rec.Phase != domain.PhaseReviewing || rec.Iteration != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.LastHeartbeat.Equal(*now) {
		t.Fatal("update did not refresh the heartbeat")
	}
}

func TestUpdateUpsertsUnknownSession(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	// A state push can arrive for an id the daemon has never seen, e.g.
	// after its registry file was removed. The push recreates the record
	// rather than failing the session permanently.
	if err := r.Update(sessionA, domain.PhasePlanning, 1, "planning"); err != nil {
		t.Fatalf("update unknown session: %v", err)
	}

	rec, err := r.Get(sessionA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Phase != domain.PhasePlanning || rec.Iteration != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Liveness != LivenessRunning {
		t.Fatalf("liveness = %s, want running", rec.Liveness)
	}
	if !rec.LastHeartbeat.Equal(testTime) {
		t.Fatalf("heartbeat = %v, want %v", rec.LastHeartbeat, testTime)
	}

	// The upserted record persists like any other.
	data, err := os.ReadFile(r.path)
	if err != nil {
		t.Fatalf("read registry file: %v", err)
	}
	var persisted []SessionRecord
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode registry file: %v", err)
	}
	if len(persisted) != 1 || persisted[0].SessionID != sessionA {
		t.Fatalf("persisted = %+v", persisted)
	}
}

func TestSweepThresholdsFromEnv(t *testing.T) {
	// Mutates process environment; not parallel.
	t.Setenv(EnvUnresponsiveSecs, "5")
	t.Setenv(EnvStaleSecs, "10")

	r, now := newTestRegistry(t)
	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	*now = testTime.Add(6 * time.Second)
	if _, err := r.Sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	rec, _ := r.Get(sessionA)
	if rec.Liveness != LivenessUnresponsive {
		t.Fatalf("liveness = %s, want unresponsive at 6s with 5s override", rec.Liveness)
	}
}

func TestReloadMarksRecordsStopped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	first, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	first.nowFunc = func() time.Time { return testTime }
	if err := first.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A fresh daemon reloading the file cannot trust any prior process
	// to still be alive.
	second, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec, err := second.Get(sessionA)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if rec.Liveness != LivenessStopped {
		t.Fatalf("liveness = %s, want stopped after reload", rec.Liveness)
	}
}

// Every mutation hits the disk before the registry lock is released.
func TestMutationsAreWrittenThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	r.nowFunc = func() time.Time { return testTime }

	if err := r.Register(testRecord(sessionA, 100)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(testRecord(sessionB, 200)); err != nil {
		t.Fatalf("register: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read registry file: %v", err)
	}
	var persisted []SessionRecord
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode registry file: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted %d records, want 2", len(persisted))
	}
	if persisted[0].SessionID != sessionA || persisted[1].SessionID != sessionB {
		t.Fatalf("persisted order = %v, %v", persisted[0].SessionID, persisted[1].SessionID)
	}
}
