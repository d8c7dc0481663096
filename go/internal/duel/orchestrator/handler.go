package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/models"
	"github.com/rs/zerolog/log"
)

type command interface{}

type joinCommand struct {
	roomID        string
	participantID string
	connectionID  string
}

type typingCommand struct {
	roomID        string
	participantID string
}

type submitCommand struct {
	roomID        string
	participantID string
	code          string
}

type disconnectCommand struct {
	connectionID string
}

type verdictCommand struct {
	roomID        string
	sessionID     uuid.UUID
	participantID string
	verdict       models.Verdict
}

type deadlineCommand struct {
	roomID    string
	sessionID uuid.UUID
}

type stateCommand struct {
	roomID string
	reply  chan stateReply
}

type stateReply struct {
	snapshot models.DuelSnapshot
	found    bool
}

// handle routes a command to its handler. Only Run calls it.
func (o *Orchestrator) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case joinCommand:
		o.handleJoin(c)
	case typingCommand:
		o.handleTyping(c)
	case submitCommand:
		o.handleSubmit(ctx, c)
	case verdictCommand:
		o.handleVerdict(ctx, c)
	case deadlineCommand:
		o.handleDeadline(c)
	case disconnectCommand:
		log.Info().
			Str("connection_id", c.connectionID).
			Msg("connection closed - duel state unchanged")
	case stateCommand:
		o.handleState(c)
	default:
		log.Warn().Interface("command", c).Msg("unknown command - ignoring")
	}
}

func (o *Orchestrator) handleJoin(c joinCommand) {
	if c.roomID == "" {
		o.rejectConnection(c, events.ErrorCodeBadMessage, "room_id is required")
		return
	}

	s := o.registry.GetOrCreate(c.roomID)
	notes, err := s.Join(c.participantID, c.connectionID, o.clock.Now())
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", c.roomID).
			Str("participant_id", c.participantID).
			Msg("join rejected")
		switch {
		case errors.Is(err, duel.ErrRoomFull):
			o.rejectConnection(c, events.ErrorCodeRoomFull, err.Error())
		case errors.Is(err, duel.ErrInvalidParticipant):
			o.rejectConnection(c, events.ErrorCodeBadMessage, err.Error())
		}
		return
	}

	log.Info().
		Str("room_id", c.roomID).
		Str("participant_id", c.participantID).
		Str("state", string(s.State())).
		Msg("participant joined")

	o.notify(c.roomID, notes)
}

func (o *Orchestrator) rejectConnection(c joinCommand, code, message string) {
	o.notifier.Notify(c.roomID, duel.Notification{
		Type:         events.EventTypeError,
		Audience:     duel.AudienceConnection,
		ConnectionID: c.connectionID,
		Payload:      events.ErrorPayload{Code: code, Message: message},
	})
}

func (o *Orchestrator) handleTyping(c typingCommand) {
	s, ok := o.registry.Get(c.roomID)
	if !ok {
		return
	}
	notes, err := s.Typing(c.participantID)
	if err != nil {
		log.Debug().Err(err).Str("room_id", c.roomID).Msg("typing ignored")
		return
	}
	o.notify(c.roomID, notes)
}

func (o *Orchestrator) handleSubmit(ctx context.Context, c submitCommand) {
	s, ok := o.registry.Get(c.roomID)
	if !ok {
		log.Debug().Str("room_id", c.roomID).Msg("submit for unknown room ignored")
		return
	}

	tests, err := s.BeginSubmission(c.participantID)
	if err != nil {
		log.Debug().
			Err(err).
			Str("room_id", c.roomID).
			Str("participant_id", c.participantID).
			Msg("submit ignored")
		return
	}

	log.Info().
		Str("room_id", c.roomID).
		Str("participant_id", c.participantID).
		Int("test_cases", len(tests)).
		Msg("executing submission")

	sessionID := s.ID()
	o.inFlight.Add(1)
	go func() {
		defer o.inFlight.Done()
		verdict := o.execute(ctx, c.code, tests)
		o.post(verdictCommand{
			roomID:        c.roomID,
			sessionID:     sessionID,
			participantID: c.participantID,
			verdict:       verdict,
		})
	}()
}

func (o *Orchestrator) handleVerdict(ctx context.Context, c verdictCommand) {
	s, ok := o.session(c.roomID, c.sessionID)
	if !ok {
		return
	}

	now := o.clock.Now()
	tr, err := s.CompleteSubmission(c.participantID, c.verdict, now)
	if err != nil {
		log.Debug().
			Err(err).
			Str("room_id", c.roomID).
			Str("participant_id", c.participantID).
			Msg("verdict dropped")
		return
	}

	if tr.ArmDeadline {
		sessionID := s.ID()
		o.scheduler.Arm(ctx, c.roomID, tr.Deadline.Sub(now), func(roomID string) {
			o.post(deadlineCommand{roomID: roomID, sessionID: sessionID})
		})
	}

	log.Info().
		Str("room_id", c.roomID).
		Str("participant_id", c.participantID).
		Int("passed", c.verdict.PassedCount).
		Int("total", c.verdict.TotalCount).
		Bool("resolved", tr.Resolved).
		Msg("verdict recorded")

	o.notify(c.roomID, tr.Notifications)
}

func (o *Orchestrator) handleDeadline(c deadlineCommand) {
	s, ok := o.session(c.roomID, c.sessionID)
	if !ok {
		return
	}

	notes, err := s.ForceTimeoutResolve(o.clock.Now())
	if errors.Is(err, duel.ErrSubmissionPending) {
		log.Info().Str("room_id", c.roomID).Msg("deadline passed with a submission executing, waiting for its verdict")
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("room_id", c.roomID).Msg("stale deadline ignored")
		return
	}

	log.Info().Str("room_id", c.roomID).Msg("duel resolved by timeout")
	o.notify(c.roomID, notes)
}

func (o *Orchestrator) handleState(c stateCommand) {
	s, ok := o.registry.Get(c.roomID)
	if !ok {
		c.reply <- stateReply{}
		return
	}
	c.reply <- stateReply{snapshot: s.Snapshot(), found: true}
}

// session returns the room's session only if it is the same instance the
// command was issued for.
func (o *Orchestrator) session(roomID string, sessionID uuid.UUID) (*duel.Session, bool) {
	s, ok := o.registry.Get(roomID)
	if !ok || s.ID() != sessionID {
		log.Debug().Str("room_id", roomID).Msg("room no longer live - ignoring")
		return nil, false
	}
	return s, true
}
