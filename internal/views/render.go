// Package views assembles the controllers into the three terminal surfaces:
// the staff console, the self-service kiosk and the manager dashboard.
package views

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// screen serialises writes from the input loop and from timer callbacks.
type screen struct {
	mu sync.Mutex
	w  io.Writer
}

func newScreen(w io.Writer) *screen {
	if w == nil {
		w = io.Discard
	}
	return &screen{w: w}
}

func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *screen) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s, format, args...)
}

// readCommands feeds each input line to handle as a lower-cased command and
// its arguments. It stops when handle returns false, in is exhausted or ctx
// is done.
func readCommands(ctx context.Context, in io.Reader, handle func(cmd string, args []string) bool) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			fields := strings.Fields(line)
			cmd := ""
			if len(fields) > 0 {
				cmd = strings.ToLower(fields[0])
				fields = fields[1:]
			}
			if !handle(cmd, fields) {
				return nil
			}
		}
	}
}

func displayService(id string) string {
	return strings.ReplaceAll(id, "_", " ")
}
