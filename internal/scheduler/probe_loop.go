// Package scheduler runs the local probe loop (spec §4.D) that picks the
// next due monitor, runs it through the probe executor, and folds the
// resulting heartbeat through the status engine.
package scheduler

import (
	"context"
	"time"

	"github.com/aristath/watchpost/internal/events"
	"github.com/aristath/watchpost/internal/ingest"
	"github.com/aristath/watchpost/internal/notify"
	"github.com/aristath/watchpost/internal/probe"
	"github.com/aristath/watchpost/internal/store"
	"github.com/aristath/watchpost/internal/timeutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	warmupDelay = 30 * time.Second
	idleSleep   = 10 * time.Second
	checkYield  = 100 * time.Millisecond
)

// Scheduler drives the single-threaded local probe loop.
type Scheduler struct {
	db       *store.DB
	bus      *events.Bus
	notifier *notify.Dispatcher
	log      zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// New builds a Scheduler. Call Start to begin the loop after the warmup
// delay.
func New(db *store.DB, bus *events.Bus, notifier *notify.Dispatcher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		bus:      bus,
		notifier: notifier,
		log:      log.With().Str("component", "scheduler").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start waits warmupDelay (so the HTTP surface can come live first), then
// runs the loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-time.After(warmupDelay):
		}
		s.loop(ctx)
	}()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		m, err := s.db.NextDueMonitor(ctx, timeutil.ToStore(timeutil.Now()))
		if err != nil {
			s.log.Error().Err(err).Msg("failed to query next due monitor")
			if !s.sleep(ctx, idleSleep) {
				return
			}
			continue
		}

		if m == nil {
			if !s.sleep(ctx, idleSleep) {
				return
			}
			continue
		}

		s.runCheck(ctx, m)

		if !s.sleep(ctx, checkYield) {
			return
		}
	}
}

// runCheck executes one probe, then folds its heartbeat through the status
// engine via ingest.Heartbeat, which inserts the heartbeat and evaluates the
// transition under a single write-lock critical section so the at-most-
// one-open-incident invariant holds (spec §5 Ordering). The probe itself
// runs before the lock is taken.
func (s *Scheduler) runCheck(ctx context.Context, m *store.Monitor) {
	outcome := probe.Run(ctx, m)
	now := timeutil.Now()

	hb := &store.Heartbeat{
		ID:             uuid.NewString(),
		MonitorID:      m.ID,
		Status:         outcome.Status,
		ResponseTimeMs: outcome.ResponseTimeMs,
		StatusCode:     outcome.StatusCode,
		ErrorMessage:   outcome.ErrorMessage,
		CheckedAt:      timeutil.ToStore(now),
	}

	if _, err := ingest.Heartbeat(ctx, s.db, s.bus, s.notifier, m, hb); err != nil {
		s.log.Error().Err(err).Str("monitor_id", m.ID).Msg("failed to record heartbeat and evaluate status")
	}
}

// sleep waits d, returning false if ctx or Stop fires first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-time.After(d):
		return true
	}
}
