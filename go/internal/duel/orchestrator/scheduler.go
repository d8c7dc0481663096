package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DeadlineScheduler arms one timeout per room. There is no cancel: when a
// timer fires after its duel already resolved, the callback finds nothing to
// do.
type DeadlineScheduler struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[string]*armedTimer
}

type armedTimer struct {
	timer clockwork.Timer
	done  chan struct{}
}

// NewDeadlineScheduler creates a scheduler driven by clock.
func NewDeadlineScheduler(clock clockwork.Clock) *DeadlineScheduler {
	return &DeadlineScheduler{
		clock:  clock,
		timers: make(map[string]*armedTimer),
	}
}

// Arm schedules onFire(roomID) after delay. Arming a room that already has a
// pending timer replaces it.
func (s *DeadlineScheduler) Arm(ctx context.Context, roomID string, delay time.Duration, onFire func(roomID string)) {
	if delay < 0 {
		delay = 0
	}
	at := &armedTimer{
		timer: s.clock.NewTimer(delay),
		done:  make(chan struct{}),
	}
	s.replaceTimer(roomID, at)

	go func() {
		select {
		case <-at.timer.Chan():
			if !s.removeTimer(roomID, at) {
				return
			}
			log.Debug().Str("room_id", roomID).Msg("submission deadline fired")
			onFire(roomID)
		case <-at.done:
		case <-ctx.Done():
			stopAndDrainTimer(at.timer)
			s.removeTimer(roomID, at)
		}
	}()

	log.Debug().
		Str("room_id", roomID).
		Dur("delay", delay).
		Msg("armed submission deadline")
}

// Pending returns the number of armed timers that have not fired.
func (s *DeadlineScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown stops every pending timer without firing it.
func (s *DeadlineScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, at := range s.timers {
		stopAndDrainTimer(at.timer)
		close(at.done)
		log.Debug().Str("room_id", roomID).Msg("cancelled deadline on shutdown")
	}
	s.timers = make(map[string]*armedTimer)
}

func (s *DeadlineScheduler) replaceTimer(roomID string, at *armedTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[roomID]; ok {
		stopAndDrainTimer(existing.timer)
		close(existing.done)
		log.Debug().Str("room_id", roomID).Msg("replaced existing deadline")
	}
	s.timers[roomID] = at
}

// removeTimer deletes at if it is still the current timer for roomID.
func (s *DeadlineScheduler) removeTimer(roomID string, at *armedTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timers[roomID] != at {
		return false
	}
	delete(s.timers, roomID)
	return true
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
