package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/models"
	"github.com/rs/zerolog/log"
)

/*
The orchestrator serializes every duel mutation onto one goroutine (Run).

EVENT FLOW:
1. gateway frame -> Join/Typing/Submit/Disconnect -> command queue
2. Run pops one command at a time and applies it to the room's session
3. submit: the session reserves the slot, the executor runs in its own
   goroutine, and the verdict comes back as a new command
4. first verdict arms the DeadlineScheduler; when it fires, a deadline
   command is queued and the session resolves unless it already has
*/

// Executor runs source code against a puzzle's test cases.
type Executor interface {
	Execute(ctx context.Context, source string, tests []models.TestCase) (models.Verdict, error)
}

// Config holds orchestrator settings.
type Config struct {
	// SweepInterval is how often the registry evicts expired rooms. Zero
	// disables sweeping.
	SweepInterval time.Duration
	QueueSize     int
}

// DefaultConfig returns default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		SweepInterval: time.Minute,
		QueueSize:     1024,
	}
}

type Orchestrator struct {
	registry  *duel.Registry
	executor  Executor
	notifier  duel.Notifier
	scheduler *DeadlineScheduler
	clock     clockwork.Clock
	config    Config

	instanceID string
	commands   chan command
	done       chan struct{}
	inFlight   sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Commands are accepted right away
// and processed once Run starts.
func NewOrchestrator(registry *duel.Registry, executor Executor, notifier duel.Notifier, clock clockwork.Clock, config Config) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Orchestrator{
		registry:   registry,
		executor:   executor,
		notifier:   notifier,
		scheduler:  NewDeadlineScheduler(clock),
		clock:      clock,
		config:     config,
		instanceID: uuid.New().String()[:8],
		commands:   make(chan command, config.QueueSize),
		done:       make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().
		Str("instance", o.instanceID).
		Dur("sweep_interval", o.config.SweepInterval).
		Msg("duel orchestrator started")

	var sweep <-chan time.Time
	if o.config.SweepInterval > 0 {
		ticker := o.clock.NewTicker(o.config.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case cmd := <-o.commands:
			o.handle(ctx, cmd)
		case <-sweep:
			o.registry.Evict(o.clock.Now())
		}
	}
}

func (o *Orchestrator) shutdown() {
	log.Info().Str("instance", o.instanceID).Msg("orchestrator shutdown requested")
	o.scheduler.Shutdown()
	close(o.done)
	o.inFlight.Wait()
	log.Info().Str("instance", o.instanceID).Msg("orchestrator stopped")
}

// Join queues a join of participantID to roomID over connectionID.
func (o *Orchestrator) Join(roomID, participantID, connectionID string) {
	o.post(joinCommand{roomID: roomID, participantID: participantID, connectionID: connectionID})
}

// Typing queues a typing notice from participantID.
func (o *Orchestrator) Typing(roomID, participantID string) {
	o.post(typingCommand{roomID: roomID, participantID: participantID})
}

// Submit queues participantID's solution for execution and scoring.
func (o *Orchestrator) Submit(roomID, participantID, code string) {
	o.post(submitCommand{roomID: roomID, participantID: participantID, code: code})
}

// Disconnect queues the loss of connectionID.
func (o *Orchestrator) Disconnect(connectionID string) {
	o.post(disconnectCommand{connectionID: connectionID})
}

// RoomState returns a snapshot of roomID taken on the orchestrator goroutine.
func (o *Orchestrator) RoomState(ctx context.Context, roomID string) (models.DuelSnapshot, bool, error) {
	reply := make(chan stateReply, 1)
	select {
	case o.commands <- stateCommand{roomID: roomID, reply: reply}:
	case <-o.done:
		return models.DuelSnapshot{}, false, fmt.Errorf("orchestrator stopped")
	case <-ctx.Done():
		return models.DuelSnapshot{}, false, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.snapshot, r.found, nil
	case <-o.done:
		return models.DuelSnapshot{}, false, fmt.Errorf("orchestrator stopped")
	case <-ctx.Done():
		return models.DuelSnapshot{}, false, ctx.Err()
	}
}

// PendingDeadlines returns the number of armed deadline timers.
func (o *Orchestrator) PendingDeadlines() int {
	return o.scheduler.Pending()
}

func (o *Orchestrator) post(cmd command) {
	select {
	case o.commands <- cmd:
	case <-o.done:
		log.Debug().Str("command", fmt.Sprintf("%T", cmd)).Msg("orchestrator stopped, dropping command")
	}
}

func (o *Orchestrator) notify(roomID string, notes []duel.Notification) {
	for _, n := range notes {
		o.notifier.Notify(roomID, n)
	}
}

// execute calls the executor and folds every failure into the verdict.
func (o *Orchestrator) execute(ctx context.Context, code string, tests []models.TestCase) (v models.Verdict) {
	length := utf8.RuneCountInString(code)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("executor panicked")
			v = models.ErrorVerdict("execution failed", len(tests), length)
		}
	}()

	v, err := o.executor.Execute(ctx, code, tests)
	if err != nil {
		log.Error().Err(err).Msg("executor failed")
		return models.ErrorVerdict("execution failed", len(tests), length)
	}

	if v.TotalCount == 0 {
		v.TotalCount = len(tests)
	}
	if v.SourceLength == 0 {
		v.SourceLength = length
	}
	return v
}
