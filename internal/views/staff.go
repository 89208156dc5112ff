package views

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"daso/internal/events"
	"daso/internal/metrics"
	"daso/internal/models"
	"daso/internal/poller"
	"daso/internal/queueview"
	"daso/internal/session"
)

// QueueAPI is what the staff console needs from the queue service.
type QueueAPI interface {
	Queue(ctx context.Context, status models.Status, limit int) (*models.QueueSnapshot, error)
	session.ActionPoster
}

// StaffConfig wires the staff console.
type StaffConfig struct {
	API       QueueAPI
	Counter   int
	StaffID   int
	Interval  time.Duration
	DropStale bool
	Clock     clockwork.Clock
	Logger    *zerolog.Logger
	Events    *events.EventBus
	Out       io.Writer
}

// Staff is the counter console: the current customer, the elapsed service
// time and the rest of the queue.
type Staff struct {
	counter int
	out     *screen
	clock   clockwork.Clock
	logger  zerolog.Logger
	bus     *events.EventBus
	session *session.Controller
	poller  *poller.Scheduler[*models.QueueSnapshot]

	mu        sync.Mutex
	remaining []models.QueueEntry
}

// NewStaff builds the console. Nothing runs until Run.
func NewStaff(cfg StaffConfig) *Staff {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	s := &Staff{
		counter: cfg.Counter,
		out:     newScreen(cfg.Out),
		clock:   cfg.Clock,
		logger:  logger.With().Str("view", "staff").Logger(),
		bus:     cfg.Events,
	}

	opts := []poller.Option{poller.WithClock(cfg.Clock), poller.WithLogger(cfg.Logger)}
	if cfg.DropStale {
		opts = append(opts, poller.WithDropStale())
	}
	s.poller = poller.New("queue", cfg.Interval, func(ctx context.Context) (*models.QueueSnapshot, error) {
		return cfg.API.Queue(ctx, "", 0)
	}, s.onSnapshot, opts...)

	s.session = session.New(session.Config{
		Counter: cfg.Counter,
		StaffID: cfg.StaffID,
		Poster:  cfg.API,
		Refresh: s.poller.Refresh,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
		Events:  cfg.Events,
	})
	return s
}

func (s *Staff) onSnapshot(snap *models.QueueSnapshot) {
	view := queueview.Derive(snap.Queue, s.counter)
	s.session.OnSnapshot(view)

	s.mu.Lock()
	s.remaining = view.Remaining
	s.mu.Unlock()

	for _, a := range view.Anomalies {
		metrics.IncQueueAnomaly()
		s.bus.Publish(events.QueueAnomaly, a)
	}
	s.bus.Publish(events.QueueSnapshot, snap)
}

// Session exposes the counter's session controller.
func (s *Staff) Session() *session.Controller {
	return s.session
}

// Run polls the queue and executes console commands read from in until in
// is exhausted, "quit" is read or ctx is done.
func (s *Staff) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.poller.Start(ctx)
	defer s.poller.Stop()
	defer s.session.Close()
	go s.session.Run(ctx)

	s.out.printf("Counter %d. Commands: start, complete, noshow, refresh, show, quit\n", s.counter)
	return readCommands(ctx, in, func(cmd string, _ []string) bool {
		switch cmd {
		case "quit", "exit":
			return false
		case "start":
			s.dispatch(ctx, models.ActionStart)
		case "complete":
			s.dispatch(ctx, models.ActionComplete)
		case "noshow", "no_show":
			s.dispatch(ctx, models.ActionNoShow)
		case "refresh":
			s.poller.Refresh()
		case "show", "":
		default:
			s.out.printf("unknown command %q\n", cmd)
			return true
		}
		s.Render(s.out)
		return true
	})
}

func (s *Staff) dispatch(ctx context.Context, action models.StaffAction) {
	if err := s.session.Dispatch(ctx, action); err != nil {
		s.out.printf("%s failed: %v\n", action, err)
	}
}

// Render writes the console to w.
func (s *Staff) Render(w io.Writer) {
	snap := s.session.Snapshot()
	s.mu.Lock()
	remaining := append([]models.QueueEntry(nil), s.remaining...)
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "== Counter %d ==\n", s.counter)
	if err := s.poller.LastError(); err != nil {
		fmt.Fprintf(&b, "! queue refresh failed: %v\n", err)
	}
	for _, a := range snap.Anomalies {
		fmt.Fprintf(&b, "! %s\n", a)
	}

	switch c := snap.Customer; {
	case c == nil:
		b.WriteString("No customer waiting.\n")
	default:
		fmt.Fprintf(&b, "Now serving: %s  %s  %s\n", c.TokenNumber, c.Name(), displayService(c.ServiceType))
		fmt.Fprintf(&b, "State: %s", snap.State)
		if snap.State == session.StateInService {
			fmt.Fprintf(&b, "  elapsed %.1f / predicted %.1f min", snap.ElapsedMinutes, c.PredictedMinutes())
			if snap.Performance != session.PerformanceUnknown {
				fmt.Fprintf(&b, "  [%s]", snap.Performance)
			}
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Actions: %s\n", allowedActions(snap))
	}
	if snap.LastError != nil {
		fmt.Fprintf(&b, "Last action failed: %v\n", snap.LastError)
	}

	fmt.Fprintf(&b, "Up next (%d):\n", len(remaining))
	for i, e := range remaining {
		fmt.Fprintf(&b, "  %2d. %-10s %-20s %-16s %s\n", i+1, e.TokenNumber, e.Name(), displayService(e.ServiceType), e.Status)
	}
	_, _ = io.WriteString(w, b.String())
}

func allowedActions(snap session.Snapshot) string {
	if snap.Busy {
		return "(working...)"
	}
	var out []string
	for _, a := range []models.StaffAction{models.ActionStart, models.ActionComplete, models.ActionNoShow} {
		if snap.Allowed(a) {
			out = append(out, strings.ReplaceAll(string(a), "_", ""))
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}
