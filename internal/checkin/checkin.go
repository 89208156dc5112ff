// Package checkin runs the kiosk's proximity check-in for pre-booked
// customers: a short scanning animation, mobile number entry and a single
// lookup against the queue service.
package checkin

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
)

// State of a check-in.
type State string

const (
	StateScanning      State = "scanning"
	StateAwaitingInput State = "awaiting_input"
	StateVerifying     State = "verifying"
	StateSuccess       State = "success"
	StateError         State = "error"
)

const (
	defaultScanDuration = 3 * time.Second
	defaultDisplayDelay = 3 * time.Second
)

var (
	ErrInvalidMobile = fmt.Errorf("enter a %d-digit mobile number", models.MobileDigits)
	ErrWrongState    = errors.New("not available in current state")
	ErrClosed        = errors.New("check-in closed")
)

// Looker performs the proximity lookup.
type Looker interface {
	CheckIn(ctx context.Context, req models.CheckInRequest) (*models.CheckInResult, error)
}

// Config wires a Controller. OnComplete is called once, DisplayDelay after a
// successful check-in.
type Config struct {
	Looker       Looker
	ScanDuration time.Duration
	DisplayDelay time.Duration
	Clock        clockwork.Clock
	Logger       *zerolog.Logger
	Events       *events.EventBus
	OnComplete   func(*models.CheckInResult)
}

// Snapshot is the render state of a check-in.
type Snapshot struct {
	State   State
	Mobile  string
	Message string
	Result  *models.CheckInResult
}

// Controller is one check-in attempt sequence on the kiosk.
type Controller struct {
	looker     Looker
	display    time.Duration
	clock      clockwork.Clock
	logger     zerolog.Logger
	bus        *events.EventBus
	onComplete func(*models.CheckInResult)

	mu        sync.Mutex
	state     State
	mobile    string
	message   string
	result    *models.CheckInResult
	scanTimer clockwork.Timer
	doneTimer clockwork.Timer
	closed    bool
}

// New starts a check-in in the scanning state.
func New(cfg Config) *Controller {
	if cfg.ScanDuration <= 0 {
		cfg.ScanDuration = defaultScanDuration
	}
	if cfg.DisplayDelay <= 0 {
		cfg.DisplayDelay = defaultDisplayDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &Controller{
		looker:     cfg.Looker,
		display:    cfg.DisplayDelay,
		clock:      cfg.Clock,
		logger:     logger.With().Str("component", "checkin").Logger(),
		bus:        cfg.Events,
		onComplete: cfg.OnComplete,
		state:      StateScanning,
	}
	c.mu.Lock()
	c.scanTimer = c.clock.AfterFunc(cfg.ScanDuration, c.scanDone)
	c.mu.Unlock()
	return c
}

func (c *Controller) scanDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateScanning {
		return
	}
	c.state = StateAwaitingInput
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Mobile: c.mobile, Message: c.message, Result: c.result}
}

// SetMobile stores raw with non-digits stripped and returns the stored value.
func (c *Controller) SetMobile(raw string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateAwaitingInput); err != nil {
		return c.mobile, err
	}
	c.mobile = models.NormalizeMobile(raw)
	return c.mobile, nil
}

func (c *Controller) expect(state State) error {
	if c.closed {
		return ErrClosed
	}
	if c.state != state {
		return fmt.Errorf("%w: %s", ErrWrongState, c.state)
	}
	return nil
}

// Verify looks the customer up. It blocks until the queue service answers.
// A negative answer moves to StateError with the server's message.
func (c *Controller) Verify(ctx context.Context) error {
	c.mu.Lock()
	if err := c.expect(StateAwaitingInput); err != nil {
		c.mu.Unlock()
		return err
	}
	if !models.IsValidMobile(c.mobile) {
		c.mu.Unlock()
		return ErrInvalidMobile
	}
	c.state = StateVerifying
	c.message = ""
	mobile := c.mobile
	c.mu.Unlock()

	res, err := c.looker.CheckIn(ctx, models.CheckInRequest{Mobile: mobile})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch {
	case err != nil:
		c.state = StateError
		c.message = "Check-in is unavailable right now. Please try again."
		c.mu.Unlock()
		metrics.IncCheckIn("error")
		c.logger.Error().Err(err).Msg("check-in lookup failed")
		return err
	case !res.Success:
		c.state = StateError
		c.message = res.Message
		c.mu.Unlock()
		metrics.IncCheckIn("not_found")
		c.logger.Info().Str("reason", res.Message).Msg("check-in declined")
		return nil
	}

	c.state = StateSuccess
	c.result = res
	c.message = res.Message
	c.doneTimer = c.clock.AfterFunc(c.display, c.finish)
	c.mu.Unlock()

	metrics.IncCheckIn("ok")
	c.logger.Info().Str("token", res.TokenNumber).Msg("checked in")
	c.bus.Publish(events.CheckInCompleted, *res)
	return nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	res := c.result
	c.mu.Unlock()

	if c.onComplete != nil {
		c.onComplete(res)
	}
}

// Retry returns from StateError to mobile entry.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StateError); err != nil {
		return err
	}
	c.state = StateAwaitingInput
	c.message = ""
	return nil
}

// Close cancels pending timers. Nothing fires after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.scanTimer != nil {
		c.scanTimer.Stop()
	}
	if c.doneTimer != nil {
		c.doneTimer.Stop()
	}
}
