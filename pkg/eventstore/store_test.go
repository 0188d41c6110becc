package eventstore //nolint:testpackage

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"weave/pkg/domain"
	"weave/pkg/workflow"
)

var testTime = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

const testID = domain.WorkflowID("11111111-1111-1111-1111-111111111111")

func newTestStore(t *testing.T, snapshotEvery uint64) *Store {
	t.Helper()

	s := New(t.TempDir(), snapshotEvery)
	s.nowFunc = func() time.Time { return testTime }
	return s
}

func createdEvent() workflow.Event {
	return workflow.Event{Type: workflow.EvWorkflowCreated, At: testTime, Create: &workflow.CreatePayload{
		WorkflowID:    testID,
		Feature:       "auth-tokens",
		MaxIterations: 3,
		Reviewers:     []domain.AgentID{"claude:r1"},
		ReviewMode:    domain.ReviewSequential,
	}}
}

func TestAppendAssignsGapFreeSequences(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)

	first, err := s.Append(testID, 0, []workflow.Event{
		createdEvent(),
		{Type: workflow.EvPlanningStarted, At: testTime},
	}, map[string]string{"source": "test"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first[0].Sequence != 1 || first[1].Sequence != 2 {
		t.Fatalf("sequences = %d, %d, want 1, 2", first[0].Sequence, first[1].Sequence)
	}

	second, err := s.Append(testID, 2, []workflow.Event{
		{Type: workflow.EvReviewCycleStarted, At: testTime, ReviewCycle: &workflow.ReviewCyclePayload{Iteration: 1}},
	}, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second[0].Sequence != 3 {
		t.Fatalf("sequence = %d, want 3", second[0].Sequence)
	}

	last, err := s.LastSequence(testID)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 3 {
		t.Fatalf("last = %d, want 3", last)
	}
}

func TestAppendDetectsConflict(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	if _, err := s.Append(testID, 0, []workflow.Event{createdEvent()}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := s.Append(testID, 0, []workflow.Event{{Type: workflow.EvPlanningStarted, At: testTime}}, nil)
	var conflict *workflow.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.Expected != 0 || conflict.Found != 1 {
		t.Fatalf("conflict = %+v", conflict)
	}

	// The losing write left no trace.
	events, err := s.ReadEvents(testID, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("log has %d events, want 1", len(events))
	}
}

func TestLoadAggregateReplaysLog(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	events := []workflow.Event{
		createdEvent(),
		{Type: workflow.EvPlanningStarted, At: testTime},
		{Type: workflow.EvReviewCycleStarted, At: testTime, ReviewCycle: &workflow.ReviewCyclePayload{
			Iteration: 1,
			Order:     []domain.AgentID{"claude:r1"},
		}},
	}
	if _, err := s.Append(testID, 0, events, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	agg, seq, err := s.LoadAggregate(testID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if seq != 3 {
		t.Fatalf("sequence = %d, want 3", seq)
	}
	if agg.Data.Phase != domain.PhaseReviewing {
		t.Fatalf("phase = %s, want reviewing", agg.Data.Phase)
	}
	if !agg.Data.PlanningStarted {
		t.Fatal("planning started flag lost in replay")
	}
}

func TestLoadAggregateUnknownIDIsUninitialized(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	agg, seq, err := s.LoadAggregate("99999999-9999-9999-9999-999999999999")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.Initialized() || seq != 0 {
		t.Fatalf("agg initialized=%v seq=%d, want fresh", agg.Initialized(), seq)
	}
}

// Snapshot plus replay-after must equal a full from-scratch replay.
func TestSnapshotReplayEquivalence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	batch1 := []workflow.Event{
		createdEvent(),
		{Type: workflow.EvPlanningStarted, At: testTime},
	}
	if _, err := s.Append(testID, 0, batch1, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	agg, seq, err := s.LoadAggregate(testID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.SaveSnapshot(testID, agg, seq); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	batch2 := []workflow.Event{
		{Type: workflow.EvReviewCycleStarted, At: testTime, ReviewCycle: &workflow.ReviewCyclePayload{
			Iteration: 1,
			Order:     []domain.AgentID{"claude:r1"},
		}},
		{Type: workflow.EvReviewerApproved, At: testTime, Reviewer: &workflow.ReviewerPayload{Reviewer: "claude:r1"}},
		{Type: workflow.EvReviewCycleCompleted, At: testTime, CycleResult: &workflow.CycleResultPayload{Approved: true}},
	}
	if _, err := s.Append(testID, seq, batch2, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	fromSnapshot, snapSeq, err := s.LoadAggregate(testID)
	if err != nil {
		t.Fatalf("load from snapshot: %v", err)
	}

	fromScratch := workflow.NewAggregate()
	for _, ev := range append(batch1, batch2...) {
		fromScratch.Apply(ev)
	}

	if snapSeq != 5 {
		t.Fatalf("sequence = %d, want 5", snapSeq)
	}
	if !reflect.DeepEqual(fromSnapshot.Data, fromScratch.Data) {
		t.Fatalf("snapshot replay diverged:\nsnapshot: %+v\nscratch:  %+v", fromSnapshot.Data, fromScratch.Data)
	}
}

func TestSnapshotReplacedAtomically(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	if _, err := s.Append(testID, 0, []workflow.Event{createdEvent()}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	agg, seq, err := s.LoadAggregate(testID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Overwriting an existing snapshot goes through the same rename path.
	if err := s.SaveSnapshot(testID, agg, seq); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if err := s.SaveSnapshot(testID, agg, seq); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	snap, err := s.loadSnapshot(testID)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Sequence != seq {
		t.Fatalf("snapshot sequence = %d, want %d", snap.Sequence, seq)
	}
}

func TestShouldSnapshot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		every    uint64
		sequence uint64
		want     bool
	}{
		{0, 20, false},
		{20, 20, true},
		{20, 21, false},
		{20, 40, true},
		{1, 7, true},
	}
	for _, tt := range tests {
		s := New(t.TempDir(), tt.every)
		if got := s.ShouldSnapshot(tt.sequence); got != tt.want {
			t.Errorf("every=%d seq=%d: got %v, want %v", tt.every, tt.sequence, got, tt.want)
		}
	}
}

func TestAppendNothingIsNoOp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)
	stored, err := s.Append(testID, 0, nil, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored != nil {
		t.Fatalf("stored = %+v, want nil", stored)
	}
	if last, _ := s.LastSequence(testID); last != 0 {
		t.Fatalf("last = %d, want 0", last)
	}
}
