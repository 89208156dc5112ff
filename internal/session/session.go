// Package session drives the service of one customer at one counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"daso/internal/events"
	"daso/internal/metrics"
	"daso/internal/models"
	"daso/internal/queueview"
)

// State of a counter session.
type State string

const (
	StateEmpty     State = "empty"
	StateAssigned  State = "assigned"
	StateInService State = "in_service"
	StateCompleted State = "completed"
	StateNoShow    State = "no_show"
)

// Terminal reports whether the session is finished for its customer.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateNoShow
}

var (
	ErrBusy       = errors.New("an action is already in flight")
	ErrNotAllowed = errors.New("action not allowed in current state")
	ErrRejected   = errors.New("action rejected by queue service")
	ErrClosed     = errors.New("session closed")
)

// ActionPoster posts staff actions to the queue service.
type ActionPoster interface {
	StaffUpdate(ctx context.Context, req models.StaffActionRequest) (*models.StaffActionResult, error)
}

// Config wires a Controller. Refresh is called after every acknowledged
// action; it usually triggers an out-of-schedule queue poll.
type Config struct {
	Counter int
	StaffID int
	Poster  ActionPoster
	Refresh func()
	Clock   clockwork.Clock
	Logger  *zerolog.Logger
	Events  *events.EventBus
}

// ActionOutcome is published on events.SessionAction.
type ActionOutcome struct {
	Counter int
	QueueID int64
	Token   string
	Action  models.StaffAction
	Err     error
}

// Snapshot is the render state of a session.
type Snapshot struct {
	State          State
	Customer       *models.QueueEntry
	ElapsedMinutes float64
	Performance    Performance
	Busy           bool
	LastError      error
	Anomalies      []queueview.Anomaly
}

// Allowed reports whether action can be dispatched now.
func (s Snapshot) Allowed(action models.StaffAction) bool {
	return !s.Busy && allowed(s.State, action)
}

// Controller is the per-counter session state machine. OnSnapshot feeds it
// the derived queue view, OnTick advances elapsed time and Dispatch posts
// staff actions.
type Controller struct {
	counter int
	staffID int
	poster  ActionPoster
	refresh func()
	clock   clockwork.Clock
	logger  zerolog.Logger
	bus     *events.EventBus

	mu         sync.Mutex
	state      State
	customer   *models.QueueEntry
	startedAt  time.Time
	elapsed    float64
	busy       bool
	lastErr    error
	terminalID int64
	anomalies  []queueview.Anomaly
	closed     bool
	done       chan struct{}
}

// New creates an empty session for a counter.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{
		counter: cfg.Counter,
		staffID: cfg.StaffID,
		poster:  cfg.Poster,
		refresh: cfg.Refresh,
		clock:   cfg.Clock,
		logger:  logger.With().Str("component", "session").Int("counter", cfg.Counter).Logger(),
		bus:     cfg.Events,
		state:   StateEmpty,
		done:    make(chan struct{}),
	}
}

func allowed(state State, action models.StaffAction) bool {
	switch state {
	case StateAssigned:
		return action == models.ActionStart || action == models.ActionNoShow
	case StateInService:
		return action == models.ActionComplete
	}
	return false
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:          c.state,
		ElapsedMinutes: c.elapsed,
		Busy:           c.busy,
		LastError:      c.lastErr,
		Anomalies:      append([]queueview.Anomaly(nil), c.anomalies...),
	}
	if c.customer != nil {
		cust := *c.customer
		snap.Customer = &cust
		if c.state == StateInService {
			snap.Performance = Evaluate(c.elapsed, cust.PredictedMinutes())
		}
	}
	return snap
}

// OnSnapshot reconciles the session with a freshly derived queue view.
//
// A finished session keeps its terminal state while the view still shows the
// same customer, since that view predates the acknowledged action. A start
// acknowledged locally is likewise kept until the view catches up.
func (c *Controller) OnSnapshot(view queueview.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.anomalies = view.Anomalies
	for _, a := range view.Anomalies {
		c.logger.Warn().Str("anomaly", a.String()).Msg("queue data integrity")
	}

	next := view.Current
	if next == nil {
		c.reset(StateEmpty, nil)
		return
	}
	if c.state.Terminal() && next.ID == c.terminalID {
		return
	}

	sameCustomer := c.customer != nil && c.customer.ID == next.ID && !c.state.Terminal()
	cust := *next
	switch {
	case next.StartTime != nil:
		if !sameCustomer {
			c.lastErr = nil
			c.terminalID = 0
		}
		c.customer = &cust
		c.state = StateInService
		c.startedAt = next.StartTime.Time
		c.elapsed = c.elapsedAt(c.clock.Now())
	case sameCustomer && c.state == StateInService:
		c.customer = &cust
	default:
		c.reset(StateAssigned, &cust)
	}
}

func (c *Controller) reset(state State, cust *models.QueueEntry) {
	if c.customer != nil && cust != nil && c.customer.ID == cust.ID && c.state == state {
		c.customer = cust
		return
	}
	c.state = state
	c.customer = cust
	c.startedAt = time.Time{}
	c.elapsed = 0
	c.lastErr = nil
	c.terminalID = 0
}

// OnTick recomputes the elapsed service time.
func (c *Controller) OnTick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateInService {
		return
	}
	c.elapsed = c.elapsedAt(now)
}

func (c *Controller) elapsedAt(now time.Time) float64 {
	if c.startedAt.IsZero() {
		return 0
	}
	d := now.Sub(c.startedAt)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}

// Run ticks the elapsed timer every second until ctx is done or Close is
// called.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.Chan():
			c.OnTick(c.clock.Now())
		}
	}
}

// Close stops Run and makes the controller ignore late results. It is safe
// to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Dispatch posts action for the current customer. It blocks until the queue
// service answers. While it runs every other Dispatch fails with ErrBusy.
// On failure the session keeps its state and the error is kept for display.
func (c *Controller) Dispatch(ctx context.Context, action models.StaffAction) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if !allowed(c.state, action) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrNotAllowed, action, state)
	}
	c.busy = true
	c.lastErr = nil
	cust := *c.customer
	c.mu.Unlock()

	req := models.StaffActionRequest{
		QueueID:       cust.ID,
		Action:        action,
		CounterNumber: c.counter,
		StaffID:       c.staffID,
	}
	res, err := c.poster.StaffUpdate(ctx, req)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, res.Message)
	}

	c.mu.Lock()
	c.busy = false
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		metrics.IncStaffAction(string(action), "error")
		c.logger.Error().Err(err).Int64("queue_id", cust.ID).Str("action", string(action)).Msg("staff action failed")
		c.publish(cust, action, err)
		return err
	}
	if c.customer != nil && c.customer.ID == cust.ID {
		c.applyAck(action, res)
	}
	c.mu.Unlock()

	metrics.IncStaffAction(string(action), "ok")
	c.logger.Info().Int64("queue_id", cust.ID).Str("token", cust.TokenNumber).Str("action", string(action)).Msg("staff action acknowledged")
	c.publish(cust, action, nil)
	if c.refresh != nil {
		c.refresh()
	}
	return nil
}

func (c *Controller) applyAck(action models.StaffAction, res *models.StaffActionResult) {
	now := c.clock.Now()
	switch action {
	case models.ActionStart:
		c.state = StateInService
		c.startedAt = now
		if res.StartTime != nil {
			c.startedAt = res.StartTime.Time
		}
		c.elapsed = c.elapsedAt(now)
	case models.ActionComplete:
		c.elapsed = c.elapsedAt(now)
		served := c.elapsed
		if res.ActualDurationMin != nil {
			served = *res.ActualDurationMin
		}
		metrics.ObserveServiceMinutes(served)
		c.state = StateCompleted
		c.terminalID = c.customer.ID
	case models.ActionNoShow:
		c.state = StateNoShow
		c.terminalID = c.customer.ID
	}
}

func (c *Controller) publish(cust models.QueueEntry, action models.StaffAction, err error) {
	c.bus.Publish(events.SessionAction, ActionOutcome{
		Counter: c.counter,
		QueueID: cust.ID,
		Token:   cust.TokenNumber,
		Action:  action,
		Err:     err,
	})
}
