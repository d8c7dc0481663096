package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/rs/zerolog/log"
)

// Backend is what the gateway needs from the duel core.
type Backend interface {
	Dispatcher
	StateProvider
}

// Service is the duel gateway: it owns participant sockets, turns their
// frames into commands and delivers duel notifications back to them.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
}

// Config holds configuration for the duel gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	Clock            clockwork.Clock
}

// DefaultConfig returns default configuration for the duel gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Clock:            clockwork.NewRealClock(),
	}
}

// NewService creates a gateway. The backend is attached separately because
// the orchestrator needs the gateway as its notifier.
func NewService(config Config) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, config.Clock)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(nil),
	}
}

// Attach connects the gateway to the duel core.
func (s *Service) Attach(backend Backend) {
	s.connectionManager.SetDispatcher(backend)
	s.stateHandler.stateProvider = backend
}

// Start delivers notifications until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	if s.connectionManager.dispatcher == nil {
		return errNoDispatcher
	}
	log.Info().Msg("starting duel gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("duel gateway service stopped")
	return nil
}

// Notify implements duel.Notifier.
func (s *Service) Notify(roomID string, n duel.Notification) {
	s.connectionManager.Notify(roomID, n)
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("duel gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
