package logging

import (
	"strings"
	"sync"
)

// StoreEvent names the change a Store callback is told about.
type StoreEvent string

const (
	EventInsert StoreEvent = "insert"
	EventClear  StoreEvent = "clear"
)

// StoreCallback receives every change to a Store. For EventClear the line
// is empty.
type StoreCallback func(event StoreEvent, line string)

// Store keeps log lines in memory and notifies subscribers of changes. It
// implements io.Writer so it can be passed to Logger.SetOutput, alone or
// through io.MultiWriter.
type Store struct {
	mu        sync.Mutex
	lines     []string
	callbacks []StoreCallback
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Write appends every complete or partial line in p.
func (s *Store) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}
	for _, line := range strings.Split(text, "\n") {
		s.Append(line)
	}
	return len(p), nil
}

// Append adds a line and notifies subscribers.
func (s *Store) Append(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	callbacks := s.snapshotCallbacks()
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(EventInsert, line)
	}
}

// Clear removes every line. Clearing an empty store notifies nobody.
func (s *Store) Clear() {
	s.mu.Lock()
	if len(s.lines) == 0 {
		s.mu.Unlock()
		return
	}
	s.lines = nil
	callbacks := s.snapshotCallbacks()
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(EventClear, "")
	}
}

// Lines returns a copy of the stored lines. Later changes to the store do
// not affect the returned slice.
func (s *Store) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Len returns the number of stored lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Subscribe registers cb for future changes. A callback registered while
// callbacks are running is first called on the next change.
func (s *Store) Subscribe(cb StoreCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *Store) snapshotCallbacks() []StoreCallback {
	out := make([]StoreCallback, len(s.callbacks))
	copy(out, s.callbacks)
	return out
}
