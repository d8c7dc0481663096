package duel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/duel/scoring"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// Session is the state machine of one duel, keyed by room id.
//
// A Session is not safe for concurrent use. The orchestrator owns every
// session and mutates them from a single goroutine.
type Session struct {
	roomID  string
	id      uuid.UUID
	puzzles PuzzleSource
	window  time.Duration

	// join order; connections holds the current binding per participant
	participants []string
	connections  map[string]string

	puzzle    *models.Puzzle
	startedAt *time.Time

	verdicts           map[string]models.Verdict
	pending            map[string]bool
	firstSubmitter     string
	firstSubmissionAt  *time.Time
	submissionDeadline *time.Time

	resolved   bool
	resolvedAt *time.Time
	winner     string
	scores     map[string]models.Score
	reason     models.ResolutionReason

	createdAt    time.Time
	lastActivity time.Time
}

// NewSession creates an empty session for roomID.
func NewSession(roomID string, puzzles PuzzleSource, window time.Duration, now time.Time) *Session {
	if window <= 0 {
		window = DefaultSubmissionWindow
	}
	return &Session{
		roomID:       roomID,
		id:           uuid.New(),
		puzzles:      puzzles,
		window:       window,
		connections:  make(map[string]string),
		verdicts:     make(map[string]models.Verdict),
		pending:      make(map[string]bool),
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) RoomID() string          { return s.roomID }
func (s *Session) ID() uuid.UUID           { return s.id }
func (s *Session) Resolved() bool          { return s.resolved }
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// ResolvedAt returns when the duel was resolved, if it was.
func (s *Session) ResolvedAt() (time.Time, bool) {
	if s.resolvedAt == nil {
		return time.Time{}, false
	}
	return *s.resolvedAt, true
}

// Participants returns participant ids in join order.
func (s *Session) Participants() []string {
	out := make([]string, len(s.participants))
	copy(out, s.participants)
	return out
}

// ConnectionID returns the connection currently bound to participantID.
func (s *Session) ConnectionID(participantID string) (string, bool) {
	c, ok := s.connections[participantID]
	return c, ok
}

// Deadline returns the submission deadline once the first verdict is in.
func (s *Session) Deadline() (time.Time, bool) {
	if s.submissionDeadline == nil {
		return time.Time{}, false
	}
	return *s.submissionDeadline, true
}

// State derives the lifecycle state from the session fields.
func (s *Session) State() models.DuelState {
	switch {
	case s.resolved:
		return models.DuelStateResolved
	case len(s.verdicts) > 0:
		return models.DuelStateFirstSubmitted
	case len(s.participants) >= MaxParticipants:
		return models.DuelStateTwoJoined
	case len(s.participants) == 1:
		return models.DuelStateOneJoined
	default:
		return models.DuelStateEmpty
	}
}

// Join adds participantID to the roster or rebinds its connection.
func (s *Session) Join(participantID, connectionID string, now time.Time) ([]Notification, error) {
	if participantID == "" {
		return nil, ErrInvalidParticipant
	}

	if _, ok := s.connections[participantID]; ok {
		s.connections[participantID] = connectionID
		s.lastActivity = now

		notes := []Notification{s.joinedNotification(participantID, connectionID)}
		if s.startedAt != nil {
			notes = append(notes, Notification{
				Type:          events.EventTypeRoomState,
				Audience:      AudienceParticipant,
				ParticipantID: participantID,
				Payload:       s.Snapshot(),
			})
		}
		return notes, nil
	}

	if len(s.participants) >= MaxParticipants {
		return nil, ErrRoomFull
	}

	if s.puzzle == nil {
		p, err := s.puzzles.SelectPuzzle()
		if err != nil {
			return nil, fmt.Errorf("select puzzle for room %s: %w", s.roomID, err)
		}
		s.puzzle = &p
	}

	s.participants = append(s.participants, participantID)
	s.connections[participantID] = connectionID
	s.lastActivity = now

	notes := []Notification{s.joinedNotification(participantID, connectionID)}

	if len(s.participants) == MaxParticipants && s.startedAt == nil {
		started := now
		s.startedAt = &started
		notes = append(notes, toRoom(events.EventTypeBattleStart, events.BattleStartPayload{
			Puzzle:    *s.puzzle,
			StartedAt: started,
		}))
	}

	return notes, nil
}

// Typing relays a typing notice to the sender's opponent.
func (s *Session) Typing(participantID string) ([]Notification, error) {
	if _, ok := s.connections[participantID]; !ok {
		return nil, ErrNotParticipant
	}
	return []Notification{{
		Type:          events.EventTypeOpponentTyping,
		Audience:      AudienceOthers,
		ParticipantID: participantID,
		Payload:       events.OpponentTypingPayload{},
	}}, nil
}

// BeginSubmission reserves participantID's single submission and returns the
// test cases to execute. The first submission per participant is
// authoritative; any later one is rejected, including while the first is
// still executing.
func (s *Session) BeginSubmission(participantID string) ([]models.TestCase, error) {
	switch {
	case s.puzzle == nil:
		return nil, ErrNoPuzzle
	case s.resolved:
		return nil, ErrResolved
	}
	if _, ok := s.connections[participantID]; !ok {
		return nil, ErrNotParticipant
	}
	if _, ok := s.verdicts[participantID]; ok || s.pending[participantID] {
		return nil, ErrAlreadySubmitted
	}

	s.pending[participantID] = true

	tests := make([]models.TestCase, len(s.puzzle.TestCases))
	copy(tests, s.puzzle.TestCases)
	return tests, nil
}

// CompleteSubmission records the verdict of a submission started with
// BeginSubmission. A verdict that arrives after the duel resolved is dropped.
func (s *Session) CompleteSubmission(participantID string, verdict models.Verdict, now time.Time) (Transition, error) {
	if !s.pending[participantID] {
		return Transition{}, ErrNoPendingSubmission
	}
	delete(s.pending, participantID)

	if s.resolved {
		return Transition{}, ErrResolved
	}

	s.verdicts[participantID] = verdict
	s.lastActivity = now

	tr := Transition{
		Notifications: []Notification{toRoom(events.EventTypeParticipantResult, events.ParticipantResultPayload{
			ParticipantID: participantID,
			Verdict:       verdict,
		})},
	}

	switch len(s.verdicts) {
	case 1:
		first := now
		deadline := first.Add(s.window)
		s.firstSubmitter = participantID
		s.firstSubmissionAt = &first
		s.submissionDeadline = &deadline

		score := scoring.Score(verdict, nil)
		s.scores = map[string]models.Score{participantID: score}

		tr.ArmDeadline = true
		tr.Deadline = deadline
		tr.Notifications = append(tr.Notifications, toRoom(events.EventTypeFirstSubmission, events.FirstSubmissionPayload{
			FirstParticipantID: participantID,
			Verdict:            verdict,
			Score:              score,
			Deadline:           deadline,
		}))

	case MaxParticipants:
		other := s.firstSubmitter
		res := scoring.Compare(other, s.verdicts[other], participantID, verdict)
		s.resolve(now, res.Scores, res.Winner, models.ReasonBothSubmitted)

		tr.Resolved = true
		tr.Notifications = append(tr.Notifications, s.completeNotification())
	}

	return tr, nil
}

// ForceTimeoutResolve resolves the duel in favor of the only participant who
// submitted before the deadline. It is a no-op returning an error when the
// timeout is stale.
func (s *Session) ForceTimeoutResolve(now time.Time) ([]Notification, error) {
	switch {
	case s.resolved:
		return nil, ErrResolved
	case s.submissionDeadline == nil:
		return nil, ErrNoDeadline
	case len(s.verdicts) >= MaxParticipants:
		return nil, ErrBothSubmitted
	case now.Before(*s.submissionDeadline):
		return nil, ErrDeadlineNotReached
	case len(s.pending) > 0:
		// accepted before the deadline; its verdict resolves the duel
		return nil, ErrSubmissionPending
	}

	sole := s.firstSubmitter
	score := scoring.Score(s.verdicts[sole], nil)
	s.resolve(now, map[string]models.Score{sole: score}, sole, models.ReasonTimeoutSecondPlayer)

	return []Notification{s.completeNotification()}, nil
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() models.DuelSnapshot {
	snap := models.DuelSnapshot{
		RoomID:             s.roomID,
		State:              s.State(),
		Participants:       s.Participants(),
		Puzzle:             s.puzzle,
		StartedAt:          s.startedAt,
		Submitted:          make([]string, 0, len(s.verdicts)),
		FirstSubmissionAt:  s.firstSubmissionAt,
		SubmissionDeadline: s.submissionDeadline,
		Resolved:           s.resolved,
		Winner:             s.winner,
		Reason:             s.reason,
		Verdicts:           s.copyVerdicts(),
	}
	for _, id := range s.participants {
		if _, ok := s.verdicts[id]; ok {
			snap.Submitted = append(snap.Submitted, id)
		}
	}
	if len(s.scores) > 0 {
		snap.Scores = make(map[string]models.Score, len(s.scores))
		for id, sc := range s.scores {
			snap.Scores[id] = sc
		}
	}
	return snap
}

func (s *Session) resolve(now time.Time, scores map[string]models.Score, winner string, reason models.ResolutionReason) {
	at := now
	s.resolved = true
	s.resolvedAt = &at
	s.scores = scores
	s.winner = winner
	s.reason = reason
	s.lastActivity = now
}

func (s *Session) joinedNotification(participantID, connectionID string) Notification {
	n := toRoom(events.EventTypeParticipantJoined, events.ParticipantJoinedPayload{
		Participants: s.Participants(),
	})
	if connectionID != "" {
		n.Bind = &Binding{ParticipantID: participantID, ConnectionID: connectionID}
	}
	return n
}

func (s *Session) completeNotification() Notification {
	return toRoom(events.EventTypeDuelComplete, events.DuelCompletePayload{
		Verdicts: s.copyVerdicts(),
		Scores:   s.scores,
		Winner:   s.winner,
		Deadline: *s.submissionDeadline,
		Reason:   s.reason,
	})
}

func (s *Session) copyVerdicts() map[string]models.Verdict {
	out := make(map[string]models.Verdict, len(s.verdicts))
	for id, v := range s.verdicts {
		out[id] = v
	}
	return out
}
