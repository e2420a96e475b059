// Package logging builds the application *log.Logger: a rotating file, stderr
// and, when the dashboard runs, a line feed for its log pane.
package logging

import (
	"bytes"
	"io"
	"log"
	"os"
	"sync"

	"github.com/lowaak/train-control/internal/config"
	"github.com/lowaak/train-control/internal/events"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Flags used for every application logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// New returns a logger writing to the destinations enabled in cfg plus any extra
// writers. The returned closer releases the log file.
func New(cfg config.LogConfig, extra ...io.Writer) (*log.Logger, io.Closer) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, file)
		closer = file
	}
	if cfg.Stderr {
		writers = append(writers, os.Stderr)
	}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	return log.New(out, "", Flags), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LineFeed is an io.Writer that splits what is written into lines and
// publishes each complete line. Listeners that fall behind miss lines.
type LineFeed struct {
	mu      sync.Mutex
	partial []byte
	event   *events.ChannelEvent[string]
}

func NewLineFeed() *LineFeed {
	return &LineFeed{event: events.NewChannelEvent[string]()}
}

func (f *LineFeed) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.partial = append(f.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(f.partial[:i]))
		f.partial = f.partial[i+1:]
	}
	f.mu.Unlock()

	for _, line := range lines {
		f.event.Notify(line)
	}
	return len(p), nil
}

// Listen registers ch for every subsequent line.
func (f *LineFeed) Listen(ch chan<- string) func() {
	return f.event.Listen(ch)
}
