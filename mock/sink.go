package mock

import (
	"fmt"
	"strings"
	"sync"
)

// Sink records run log lines without timestamps.
type Sink struct {
	mu    sync.Mutex
	lines []string
}

// Logf implements runlog.Sink.
func (s *Sink) Logf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

// Lines returns the recorded lines.
func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.lines...)
}

// Contains reports whether any line contains substr.
func (s *Sink) Contains(substr string) bool {
	for _, l := range s.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}

	return false
}
