// Package runlog implements the append-only run log of dnspick.
//
// Every line is "YYYY-MM-DD HH:MM:SS: message". The line is appended to the
// log file and mirrored to stdout. The timestamp prefix is parsed back by
// LastRun to detect scheduler drift, so the format must not change.
package runlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"
)

// TimeLayout is the timestamp prefix of every line.
const TimeLayout = "2006-01-02 15:04:05"

// tailSize bounds how much of the file LastRun reads.
const tailSize = 64 * 1024

var stampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

// Sink receives the run events.
type Sink interface {
	Logf(format string, args ...any)
}

// Logger writes run log lines.
type Logger struct {
	mu sync.Mutex

	path   string
	clock  clockwork.Clock
	stdout io.Writer
}

// New returns a logger appending to path and mirroring to os.Stdout.
func New(path string) *Logger {
	return NewWithClock(path, clockwork.NewRealClock(), os.Stdout)
}

// NewWithClock returns a logger with the given clock and mirror writer.
func NewWithClock(path string, clock clockwork.Clock, stdout io.Writer) *Logger {
	return &Logger{path: path, clock: clock, stdout: stdout}
}

// Path returns the log file location.
func (l *Logger) Path() string { return l.path }

// Logf formats and appends one line.
func (l *Logger) Logf(format string, args ...any) {
	line := l.clock.Now().Format(TimeLayout) + ": " + fmt.Sprintf(format, args...) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stdout != nil {
		_, _ = io.WriteString(l.stdout, line)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		zlog.Warn("Run log is not writable", "path", l.path, "error", err.Error())
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		zlog.Warn("Run log write failed", "path", l.path, "error", err.Error())
	}
}

// LastRun returns the timestamp of the most recent line of the log file.
// ok is false when the file is missing or has no timestamped line.
func (l *Logger) LastRun() (last time.Time, ok bool) {
	f, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			zlog.Warn("Run log is not readable", "path", l.path, "error", err.Error())
		}
		return time.Time{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, false
	}

	offset := info.Size() - tailSize
	if offset < 0 {
		offset = 0
	}

	data := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(data, offset); err != nil && err != io.EOF {
		zlog.Warn("Run log read failed", "path", l.path, "error", err.Error())
		return time.Time{}, false
	}

	return lastStamp(data, l.clock.Now().Location())
}

// Drift reports whether the gap since the last logged line exceeds max.
func (l *Logger) Drift(max time.Duration) (last time.Time, drift bool) {
	last, ok := l.LastRun()
	if !ok {
		return time.Time{}, false
	}

	return last, l.clock.Since(last) > max
}

func lastStamp(data []byte, loc *time.Location) (time.Time, bool) {
	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		m := stampRe.FindSubmatch(lines[i])
		if m == nil {
			continue
		}

		t, err := time.ParseInLocation(TimeLayout, string(m[1]), loc)
		if err != nil {
			continue
		}

		return t, true
	}

	return time.Time{}, false
}
