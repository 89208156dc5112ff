// Package poller periodically refreshes a view from the queue service.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"daso/internal/metrics"
)

// FetchFunc loads one snapshot.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// ApplyFunc receives a snapshot that won the race to be applied. It runs with
// the scheduler locked and must not call Start, Stop, Latest or Running.
type ApplyFunc[T any] func(T)

type options struct {
	clock     clockwork.Clock
	logger    *zerolog.Logger
	dropStale bool
}

// Option configures a Scheduler.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for failed refreshes.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDropStale discards a result whose tick is older than the last applied
// one. Without it results are applied in arrival order.
func WithDropStale() Option {
	return func(o *options) { o.dropStale = true }
}

// Scheduler invokes fetch immediately on Start and then every interval until
// Stop. Ticks fire regardless of whether the previous fetch has returned.
// A failed fetch is logged and the previous snapshot is kept. Results that
// arrive after Stop are dropped.
type Scheduler[T any] struct {
	name      string
	interval  time.Duration
	fetch     FetchFunc[T]
	apply     ApplyFunc[T]
	clock     clockwork.Clock
	logger    zerolog.Logger
	dropStale bool
	refreshCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	gen     uint64
	seq     uint64
	applied uint64
	last    T
	hasLast bool
	lastErr error
}

// New creates a stopped scheduler. name labels logs and metrics.
func New[T any](name string, interval time.Duration, fetch FetchFunc[T], apply ApplyFunc[T], opts ...Option) *Scheduler[T] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := zerolog.Nop()
	if o.logger != nil {
		logger = *o.logger
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Scheduler[T]{
		name:      name,
		interval:  interval,
		fetch:     fetch,
		apply:     apply,
		clock:     o.clock,
		logger:    logger.With().Str("component", "poller").Str("source", name).Logger(),
		dropStale: o.dropStale,
		refreshCh: make(chan struct{}, 1),
	}
}

// Start begins polling. Calling Start on a running scheduler is a no-op.
// Cancelling ctx stops the scheduler.
func (s *Scheduler[T]) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.gen++
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Debug().Dur("interval", s.interval).Msg("polling started")
	go s.loop(ctx, stopCh)
}

// Stop cancels the timer. It is safe to call more than once. Once Stop
// returns no further results are applied.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Debug().Msg("polling stopped")
}

// Refresh requests an out-of-schedule tick. Requests made while one is
// already pending are merged.
func (s *Scheduler[T]) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Running reports whether the scheduler is active.
func (s *Scheduler[T]) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Latest returns the last applied snapshot.
func (s *Scheduler[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// LastError returns the error of the most recent failed refresh, cleared by
// the next successful one.
func (s *Scheduler[T]) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Scheduler[T]) loop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.Chan():
			s.tick(ctx)
		case <-s.refreshCh:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler[T]) tick(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq, gen := s.seq, s.gen
	s.mu.Unlock()

	go s.run(ctx, seq, gen)
}

func (s *Scheduler[T]) run(ctx context.Context, seq, gen uint64) {
	val, err := s.fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || gen != s.gen {
		metrics.IncPoll(s.name, "ignored")
		return
	}
	if err != nil {
		s.lastErr = err
		metrics.IncPoll(s.name, "error")
		s.logger.Error().Err(err).Uint64("seq", seq).Msg("refresh failed; keeping previous snapshot")
		return
	}
	if s.dropStale && seq < s.applied {
		metrics.IncPoll(s.name, "stale")
		s.logger.Debug().Uint64("seq", seq).Uint64("applied", s.applied).Msg("dropping stale snapshot")
		return
	}

	s.applied = seq
	s.last = val
	s.hasLast = true
	s.lastErr = nil
	metrics.IncPoll(s.name, "ok")
	if s.apply != nil {
		s.apply(val)
	}
}
