package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mcdev12/codeduel/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider returns a consistent snapshot of a room.
type StateProvider interface {
	RoomState(ctx context.Context, roomID string) (models.DuelSnapshot, bool, error)
}

// StateHandler handles HTTP requests for room state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	if h.stateProvider == nil {
		http.Error(w, "Room state unavailable", http.StatusServiceUnavailable)
		return
	}

	snapshot, found, err := h.stateProvider.RoomState(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/{id}", h.HandleGetRoomState)
}
