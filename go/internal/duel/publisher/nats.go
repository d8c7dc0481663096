package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/gateway"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "duel.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher mirrors duel notifications onto NATS subjects so other
// services can follow rooms without holding a socket.
type NATSPublisher struct {
	nc     *nats.Conn
	pub    msgPublisher
	config Config
	clock  clockwork.Clock
}

func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("codeduel"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("duel event publisher connected")

	p := newPublisher(nc, cfg, clockwork.NewRealClock())
	p.nc = nc
	return p, nil
}

func newPublisher(pub msgPublisher, cfg Config, clock clockwork.Clock) *NATSPublisher {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	return &NATSPublisher{pub: pub, config: cfg, clock: clock}
}

// Notify implements duel.Notifier. Failures are logged and never reach the
// caller.
func (p *NATSPublisher) Notify(roomID string, n duel.Notification) {
	// errors addressed to one socket are not room events
	if n.Audience == duel.AudienceConnection {
		return
	}

	msg, err := p.buildMessage(roomID, n)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build NATS message")
		return
	}

	if err := p.pub.PublishMsg(msg); err != nil {
		log.Error().
			Err(err).
			Str("subject", msg.Subject).
			Msg("failed to publish duel event")
		return
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", msg.Header.Get("Event-ID")).
		Msg("published duel event")
}

func (p *NATSPublisher) buildMessage(roomID string, n duel.Notification) (*nats.Msg, error) {
	event, err := gateway.NewDuelEvent(roomID, n.Type, n.Payload, p.clock.Now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &nats.Msg{
		Subject: Subject(p.config.SubjectPrefix, roomID, string(n.Type)),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(n.Type)},
			"Room-ID":    []string{roomID},
			"Event-ID":   []string{event.ID},
		},
	}, nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_")

// Subject returns the subject for an event in a room. Room ids are free-form,
// so characters with meaning to NATS are replaced.
func Subject(prefix, roomID, eventType string) string {
	room := tokenReplacer.Replace(roomID)
	if room == "" {
		room = "_"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, room, eventType)
}
