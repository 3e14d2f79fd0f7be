package logging

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/icectl/internal/observability"
)

// Capture records the events of one run as plain text lines, so they can be
// stored next to that run's output. Only events emitted through Logger are
// recorded; concurrent runs each see their own lines.
type Capture struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	console zerolog.ConsoleWriter
	stopped bool
	logger  zerolog.Logger
}

// StartCapture begins recording. The capture's logger writes to the console
// the way the global logger does and to the capture.
func StartCapture() *Capture {
	c := &Capture{}
	c.console = zerolog.ConsoleWriter{
		Out:          &c.buf,
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}
	cfg := activeConfig()
	c.logger = observability.NewLogger("icectl", observability.LoggerOptions{
		Timestamp: cfg.Timestamp,
		NoColor:   cfg.NoColor,
		Extra:     []io.Writer{c},
	})
	return c
}

// Logger returns the run logger feeding this capture.
func (c *Capture) Logger() zerolog.Logger {
	return c.logger
}

// Stop ends recording. Recorded lines stay available and the logger keeps
// writing to the console.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return len(p), nil
	}
	_, _ = c.console.Write(p)
	return len(p), nil
}

// Lines returns the recorded lines in emission order.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, 0)
	sc := bufio.NewScanner(bytes.NewReader(c.buf.Bytes()))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
