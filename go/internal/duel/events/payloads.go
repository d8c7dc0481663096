package events

import (
	"time"

	"github.com/mcdev12/codeduel/go/internal/models"
)

// Event payload types that are shared between the duel core, the gateway and
// the publisher.

// EventType represents the type of an outbound duel event
type EventType string

const (
	EventTypeParticipantJoined EventType = "participant_joined"
	EventTypeBattleStart       EventType = "battle_start"
	EventTypeOpponentTyping    EventType = "opponent_typing"
	EventTypeParticipantResult EventType = "participant_result"
	EventTypeFirstSubmission   EventType = "first_submission"
	EventTypeDuelComplete      EventType = "duel_complete"
	EventTypeRoomState         EventType = "room_state"
	EventTypeError             EventType = "error"
)

// Error codes sent in ErrorPayload
const (
	ErrorCodeRoomFull   = "room_full"
	ErrorCodeBadMessage = "bad_message"
)

// ParticipantJoinedPayload is the payload for a participant_joined event
type ParticipantJoinedPayload struct {
	Participants []string `json:"participants"`
}

// BattleStartPayload is the payload for a battle_start event
type BattleStartPayload struct {
	Puzzle    models.Puzzle `json:"puzzle"`
	StartedAt time.Time     `json:"started_at"`
}

// OpponentTypingPayload is the payload for an opponent_typing event
type OpponentTypingPayload struct{}

// ParticipantResultPayload is the payload for a participant_result event
type ParticipantResultPayload struct {
	ParticipantID string         `json:"participant_id"`
	Verdict       models.Verdict `json:"verdict"`
}

// FirstSubmissionPayload is the payload for a first_submission event
type FirstSubmissionPayload struct {
	FirstParticipantID string         `json:"first_participant_id"`
	Verdict            models.Verdict `json:"verdict"`
	Score              models.Score   `json:"score"`
	Deadline           time.Time      `json:"deadline"`
}

// DuelCompletePayload is the payload for a duel_complete event
type DuelCompletePayload struct {
	Verdicts map[string]models.Verdict `json:"verdicts"`
	Scores   map[string]models.Score   `json:"scores"`
	Winner   string                    `json:"winner"`
	Deadline time.Time                 `json:"deadline"`
	Reason   models.ResolutionReason   `json:"reason"`
}

// ErrorPayload is sent to a single connection when its request is refused
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
