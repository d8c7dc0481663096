package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/models"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedPuzzle struct{}

func (fixedPuzzle) SelectPuzzle() (models.Puzzle, error) {
	return models.Puzzle{
		ID: "two-sum",
		TestCases: []models.TestCase{
			{Input: json.RawMessage(`{"nums":[2,7,11,15],"target":9}`), ExpectedOutput: json.RawMessage(`[0,1]`)},
			{Input: json.RawMessage(`{"nums":[3,2,4],"target":6}`), ExpectedOutput: json.RawMessage(`[1,2]`)},
			{Input: json.RawMessage(`{"nums":[3,3],"target":6}`), ExpectedOutput: json.RawMessage(`[0,1]`)},
		},
	}, nil
}

// fakeExecutor returns a canned verdict per source string.
type fakeExecutor struct {
	verdicts map[string]models.Verdict
	err      error
	gate     chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, source string, tests []models.TestCase) (models.Verdict, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return models.Verdict{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.Verdict{}, f.err
	}
	return f.verdicts[source], nil
}

type recorded struct {
	roomID string
	note   duel.Notification
}

type recordingNotifier struct {
	ch chan recorded
}

func (r *recordingNotifier) Notify(roomID string, n duel.Notification) {
	r.ch <- recorded{roomID: roomID, note: n}
}

type harness struct {
	orch     *Orchestrator
	clock    *clockwork.FakeClock
	notes    *recordingNotifier
	executor *fakeExecutor
	ctx      context.Context
}

func newHarness(t *testing.T, exec *fakeExecutor) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	registry := duel.NewRegistry(duel.RegistryConfig{
		Puzzles:          fixedPuzzle{},
		SubmissionWindow: time.Minute,
		Clock:            clock,
	})
	notes := &recordingNotifier{ch: make(chan recorded, 64)}
	orch := NewOrchestrator(registry, exec, notes, clock, Config{QueueSize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{orch: orch, clock: clock, notes: notes, executor: exec, ctx: ctx}
}

func (h *harness) next(t *testing.T) recorded {
	t.Helper()
	select {
	case r := <-h.notes.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
		return recorded{}
	}
}

func (h *harness) expect(t *testing.T, want ...events.EventType) []duel.Notification {
	t.Helper()
	got := make([]duel.Notification, 0, len(want))
	types := make([]events.EventType, 0, len(want))
	for range want {
		r := h.next(t)
		got = append(got, r.note)
		types = append(types, r.note.Type)
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Fatalf("notification sequence (-want +got):\n%s", diff)
	}
	return got
}

// sync waits until every command queued so far has been processed.
func (h *harness) sync(t *testing.T, roomID string) (models.DuelSnapshot, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()
	snap, found, err := h.orch.RoomState(ctx, roomID)
	if err != nil {
		t.Fatalf("RoomState: %v", err)
	}
	return snap, found
}

func (h *harness) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.notes.ch:
		t.Fatalf("unexpected notification %s", r.note.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func duelExecutor() *fakeExecutor {
	return &fakeExecutor{verdicts: map[string]models.Verdict{
		"a": {PassedCount: 3, TotalCount: 3, ExecutionTimeMs: 10, SourceLength: 50},
		"b": {PassedCount: 2, TotalCount: 3, ExecutionTimeMs: 20, SourceLength: 80},
	}}
}

func startDuel(t *testing.T, h *harness) {
	t.Helper()
	h.orch.Join("r1", "A", "conn-A")
	notes := h.expect(t, events.EventTypeParticipantJoined)
	if got := notes[0].Payload.(events.ParticipantJoinedPayload).Participants; !cmp.Equal(got, []string{"A"}) {
		t.Fatalf("expected [A], got %v", got)
	}

	h.orch.Join("r1", "B", "conn-B")
	notes = h.expect(t, events.EventTypeParticipantJoined, events.EventTypeBattleStart)
	if got := notes[0].Payload.(events.ParticipantJoinedPayload).Participants; !cmp.Equal(got, []string{"A", "B"}) {
		t.Fatalf("expected [A B], got %v", got)
	}
}

func TestDuelBothSubmitted(t *testing.T) {
	h := newHarness(t, duelExecutor())
	startDuel(t, h)

	h.orch.Submit("r1", "A", "a")
	notes := h.expect(t, events.EventTypeParticipantResult, events.EventTypeFirstSubmission)
	first := notes[1].Payload.(events.FirstSubmissionPayload)
	want := models.Score{Correctness: 70, Speed: 15, Length: 15, Total: 100}
	if diff := cmp.Diff(want, first.Score); diff != "" {
		t.Fatalf("first submission score (-want +got):\n%s", diff)
	}
	if first.Deadline.Sub(t0) != time.Minute {
		t.Fatalf("expected deadline 60s ahead, got %v", first.Deadline.Sub(t0))
	}
	if h.orch.PendingDeadlines() != 1 {
		t.Fatalf("expected one armed deadline, got %d", h.orch.PendingDeadlines())
	}

	h.orch.Submit("r1", "B", "b")
	notes = h.expect(t, events.EventTypeParticipantResult, events.EventTypeDuelComplete)
	done := notes[1].Payload.(events.DuelCompletePayload)
	if done.Winner != "A" || done.Reason != models.ReasonBothSubmitted {
		t.Fatalf("unexpected duel_complete: %+v", done)
	}
	if done.Scores["A"].Total <= done.Scores["B"].Total {
		t.Fatalf("winner total not higher: %+v", done.Scores)
	}

	// the deadline still fires later; it must not produce a second result
	if err := h.clock.BlockUntilContext(h.ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	h.clock.Advance(time.Minute)
	waitFor(t, func() bool { return h.orch.PendingDeadlines() == 0 })
	time.Sleep(20 * time.Millisecond)
	h.sync(t, "r1")
	h.expectQuiet(t)
}

func TestDuelTimeoutSecondPlayer(t *testing.T) {
	h := newHarness(t, duelExecutor())
	startDuel(t, h)

	h.orch.Submit("r1", "A", "a")
	h.expect(t, events.EventTypeParticipantResult, events.EventTypeFirstSubmission)

	if err := h.clock.BlockUntilContext(h.ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	h.clock.Advance(time.Minute)

	notes := h.expect(t, events.EventTypeDuelComplete)
	done := notes[0].Payload.(events.DuelCompletePayload)
	if done.Winner != "A" || done.Reason != models.ReasonTimeoutSecondPlayer {
		t.Fatalf("unexpected duel_complete: %+v", done)
	}
	if _, ok := done.Verdicts["B"]; ok {
		t.Fatalf("B must be absent from verdicts")
	}

	// B arrives after the timeout was processed
	h.orch.Submit("r1", "B", "b")
	snap, _ := h.sync(t, "r1")
	if !snap.Resolved || len(snap.Verdicts) != 1 {
		t.Fatalf("late submission changed state: %+v", snap)
	}
	h.expectQuiet(t)
}

func TestSubmitAcceptedBeforeDeadlineWinsOverTimeout(t *testing.T) {
	exec := duelExecutor()
	h := newHarness(t, exec)
	startDuel(t, h)

	h.orch.Submit("r1", "A", "a")
	h.expect(t, events.EventTypeParticipantResult, events.EventTypeFirstSubmission)
	if err := h.clock.BlockUntilContext(h.ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}

	// B's submit is processed one second before the deadline; its run outlives it
	h.clock.Advance(59 * time.Second)
	exec.gate = make(chan struct{})
	h.orch.Submit("r1", "B", "b")
	h.sync(t, "r1")

	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return h.orch.PendingDeadlines() == 0 })
	time.Sleep(20 * time.Millisecond)
	snap, _ := h.sync(t, "r1")
	if snap.Resolved {
		t.Fatalf("timeout resolved the duel while B's accepted submission was executing")
	}
	h.expectQuiet(t)

	close(exec.gate)
	notes := h.expect(t, events.EventTypeParticipantResult, events.EventTypeDuelComplete)
	if id := notes[0].Payload.(events.ParticipantResultPayload).ParticipantID; id != "B" {
		t.Fatalf("expected B's result, got %s", id)
	}
	done := notes[1].Payload.(events.DuelCompletePayload)
	if done.Reason != models.ReasonBothSubmitted || len(done.Verdicts) != 2 || done.Winner != "A" {
		t.Fatalf("unexpected duel_complete: %+v", done)
	}
}

func TestThirdJoinGetsRoomFullError(t *testing.T) {
	h := newHarness(t, duelExecutor())
	startDuel(t, h)

	h.orch.Join("r1", "C", "conn-C")
	r := h.next(t)
	if r.note.Type != events.EventTypeError || r.note.Audience != duel.AudienceConnection || r.note.ConnectionID != "conn-C" {
		t.Fatalf("unexpected notification: %+v", r.note)
	}
	if code := r.note.Payload.(events.ErrorPayload).Code; code != events.ErrorCodeRoomFull {
		t.Fatalf("expected room_full, got %s", code)
	}
}

func TestExecutorErrorBecomesZeroVerdict(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("sandbox unreachable")}
	h := newHarness(t, exec)
	startDuel(t, h)

	h.orch.Submit("r1", "A", "héllo")
	notes := h.expect(t, events.EventTypeParticipantResult, events.EventTypeFirstSubmission)
	v := notes[0].Payload.(events.ParticipantResultPayload).Verdict
	if v.Error == nil || v.PassedCount != 0 || v.TotalCount != 3 || v.SourceLength != 5 {
		t.Fatalf("unexpected error verdict: %+v", v)
	}
	if s := notes[1].Payload.(events.FirstSubmissionPayload).Score; s.Correctness != 0 {
		t.Fatalf("expected zero correctness, got %+v", s)
	}
}

func TestSubmitBeforeJoinIgnored(t *testing.T) {
	h := newHarness(t, duelExecutor())

	h.orch.Submit("ghost", "A", "a")
	if _, found := h.sync(t, "ghost"); found {
		t.Fatalf("submit must not create a room")
	}
	h.expectQuiet(t)
}

func TestTypingRelayedToOpponent(t *testing.T) {
	h := newHarness(t, duelExecutor())
	startDuel(t, h)

	h.orch.Typing("r1", "B")
	r := h.next(t)
	if r.note.Type != events.EventTypeOpponentTyping || r.note.Audience != duel.AudienceOthers || r.note.ParticipantID != "B" {
		t.Fatalf("unexpected typing notification: %+v", r.note)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
