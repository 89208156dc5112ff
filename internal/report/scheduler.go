package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Scheduler writes the dashboard to Dir once a day at a fixed local time.
type Scheduler struct {
	at     time.Duration // offset from midnight
	dir    string
	source func() Dashboard
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	last    string
}

// NewScheduler parses at ("HH:MM") and returns a stopped scheduler.
func NewScheduler(at, dir string, source func() Dashboard, clock clockwork.Clock, logger *zerolog.Logger) (*Scheduler, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("daily export time: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Scheduler{
		at:     time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute,
		dir:    dir,
		source: source,
		clock:  clock,
		logger: l.With().Str("component", "report").Logger(),
	}, nil
}

// Start begins waiting for the next export time.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)
}

// Stop waits for the scheduler goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// LastExport returns the path of the most recent scheduled export.
func (s *Scheduler) LastExport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) loop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	next := s.nextRun(s.clock.Now())
	timer := s.clock.NewTimer(next.Sub(s.clock.Now()))
	defer timer.Stop()
	s.logger.Info().Time("at", next).Msg("next daily export scheduled")

	for {
		select {
		case <-stopCh:
			return
		case <-timer.Chan():
			s.export()
			next = s.nextRun(s.clock.Now())
			timer.Reset(next.Sub(s.clock.Now()))
		}
	}
}

func (s *Scheduler) nextRun(now time.Time) time.Time {
	now = now.In(time.Local)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	next := midnight.Add(s.at)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.Local).Add(s.at)
	}
	return next
}

func (s *Scheduler) export() {
	path, err := WriteFile(s.dir, s.source())
	if err != nil {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("daily export failed")
		return
	}
	s.mu.Lock()
	s.last = path
	s.mu.Unlock()
	s.logger.Info().Str("path", path).Msg("daily export written")
}
