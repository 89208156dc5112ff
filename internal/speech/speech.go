// Package speech turns a platform recogniser into single-shot voice input:
// one Listen yields at most one transcript.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

var (
	ErrBusy     = errors.New("already listening")
	ErrNoSpeech = errors.New("no speech recognised")
)

// Recognizer captures one utterance and returns its transcript.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Result is delivered once per Listen.
type Result struct {
	Transcript string
	Err        error
}

// Controller runs at most one recognition at a time.
type Controller struct {
	rec     Recognizer
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewController wraps rec. timeout <= 0 selects a default.
func NewController(rec Recognizer, timeout time.Duration, logger *zerolog.Logger) *Controller {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Controller{
		rec:     rec,
		timeout: timeout,
		logger:  l.With().Str("component", "speech").Logger(),
	}
}

// Listen starts one recognition and returns immediately. onResult is called
// exactly once from another goroutine, unless Cancel is called first.
func (c *Controller) Listen(ctx context.Context, onResult func(Result)) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		text, err := c.rec.Recognize(ctx)
		text = strings.TrimSpace(text)
		if err == nil && text == "" {
			err = ErrNoSpeech
		}

		c.mu.Lock()
		if gen != c.gen || c.cancel == nil {
			c.mu.Unlock()
			return
		}
		c.cancel = nil
		c.mu.Unlock()

		if err != nil {
			c.logger.Debug().Err(err).Msg("recognition ended without transcript")
			onResult(Result{Err: err})
			return
		}
		c.logger.Debug().Str("transcript", text).Msg("recognised")
		onResult(Result{Transcript: text})
	}()
	return nil
}

// Listening reports whether a recognition is in progress.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Cancel aborts the current recognition; its result is never delivered.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.gen++
}
