package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"xdsl/internal/application/port"
)

const clearLine = "\r\033[K"

// Sink renders the monitor on a terminal: one live line rewritten in place
// plus timestamped snapshot lines for notable ticks.
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSink() port.Sink { return NewWriterSink(os.Stdout) }

func NewWriterSink(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, clearLine+line) // no newline
	return err
}

// WriteSnapshot leaves the live line and appends a permanent entry; the
// next WriteLive starts on a fresh line.
func (s *Sink) WriteSnapshot(ts time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s%s %s\n", clearLine, ts.Format("2006-01-02 15:04:05"), line)
	return err
}

func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, "\n")
	return err
}
