package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/codeduel/go/internal/duel/events"
)

// DuelEvent is the envelope for every event written to a client socket
type DuelEvent struct {
	ID        string           `json:"id"`        // Event UUID
	RoomID    string           `json:"room_id"`   // Room the event belongs to
	Type      events.EventType `json:"type"`      // Event type
	Timestamp time.Time        `json:"timestamp"` // Event creation time
	Data      json.RawMessage  `json:"data"`      // Event-specific payload
}

// NewDuelEvent wraps payload in an envelope.
func NewDuelEvent(roomID string, eventType events.EventType, payload any, now time.Time) (*DuelEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &DuelEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: now.UTC(),
		Data:      data,
	}, nil
}

// ClientMessageType is the type of an inbound client frame
type ClientMessageType string

const (
	ClientMessageJoin   ClientMessageType = "join"
	ClientMessageTyping ClientMessageType = "typing"
	ClientMessageSubmit ClientMessageType = "submit"
)

var (
	ErrMalformedMessage = errors.New("malformed client message")
	ErrUnknownMessage   = errors.New("unknown client message type")
)

// ClientMessage is a frame received from a participant's socket
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	Data ClientMessageData `json:"data"`
}

// ClientMessageData carries the fields used by join, typing and submit.
type ClientMessageData struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
	Code          string `json:"code,omitempty"`
}

// ParseClientMessage decodes a raw frame and checks its type.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case ClientMessageJoin, ClientMessageTyping, ClientMessageSubmit:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}
