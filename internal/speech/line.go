package speech

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineRecognizer treats each line read from r as one utterance. It stands
// in for a microphone on terminals and in tests.
type LineRecognizer struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	err   error
}

// NewLineRecognizer reads utterances from r.
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{r: r, lines: make(chan string)}
}

func (l *LineRecognizer) start() {
	go func() {
		sc := bufio.NewScanner(l.r)
		for sc.Scan() {
			l.lines <- sc.Text()
		}
		l.err = sc.Err()
		if l.err == nil {
			l.err = io.EOF
		}
		close(l.lines)
	}()
}

// Recognize returns the next line.
func (l *LineRecognizer) Recognize(ctx context.Context) (string, error) {
	l.once.Do(l.start)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-l.lines:
		if !ok {
			return "", l.err
		}
		return line, nil
	}
}
