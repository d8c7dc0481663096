package duel

import (
	"errors"
	"time"

	"github.com/mcdev12/codeduel/go/internal/duel/events"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// MaxParticipants is the roster size of a duel.
const MaxParticipants = 2

// DefaultSubmissionWindow is how long the second participant has to submit
// after the first verdict is recorded.
const DefaultSubmissionWindow = 60 * time.Second

var (
	ErrInvalidParticipant  = errors.New("participant id is required")
	ErrRoomFull            = errors.New("room already has two participants")
	ErrNoPuzzle            = errors.New("no puzzle assigned to room")
	ErrResolved            = errors.New("duel already resolved")
	ErrNotParticipant      = errors.New("participant has not joined the room")
	ErrAlreadySubmitted    = errors.New("participant already submitted")
	ErrNoDeadline          = errors.New("no submission deadline armed")
	ErrBothSubmitted       = errors.New("both participants already submitted")
	ErrNoPendingSubmission = errors.New("no submission in flight for participant")
	ErrDeadlineNotReached  = errors.New("submission deadline not reached")
	ErrSubmissionPending   = errors.New("accepted submission still executing")
)

// PuzzleSource supplies the puzzle for a newly occupied room.
type PuzzleSource interface {
	SelectPuzzle() (models.Puzzle, error)
}

// Audience selects who receives a notification.
type Audience int

const (
	// AudienceRoom delivers to every participant in the room.
	AudienceRoom Audience = iota
	// AudienceOthers delivers to every participant except ParticipantID.
	AudienceOthers
	// AudienceParticipant delivers to ParticipantID only.
	AudienceParticipant
	// AudienceConnection delivers to ConnectionID only.
	AudienceConnection
)

// Notification is an outbound event produced by a session transition.
type Notification struct {
	Type          events.EventType
	Audience      Audience
	ParticipantID string
	ConnectionID  string
	Payload       any
	// Bind is set on the notification that accepts a join. Delivery attaches
	// the connection to the room before routing the notification.
	Bind *Binding
}

// Binding ties a gateway connection to a participant of the room.
type Binding struct {
	ParticipantID string
	ConnectionID  string
}

// Transition is the outcome of recording a verdict.
type Transition struct {
	Notifications []Notification
	// ArmDeadline is set on the first recorded verdict.
	ArmDeadline bool
	Deadline    time.Time
	Resolved    bool
}

// Notifier delivers session notifications for a room.
type Notifier interface {
	Notify(roomID string, n Notification)
}

// Notifiers fans a notification out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(roomID string, n Notification) {
	for _, notifier := range ns {
		if notifier != nil {
			notifier.Notify(roomID, n)
		}
	}
}

func toRoom(t events.EventType, payload any) Notification {
	return Notification{Type: t, Audience: AudienceRoom, Payload: payload}
}
