package journal

import (
	"sync"

	"scanlens/internal/logger"
)

// Set holds one Writer per run below a runs root.
type Set struct {
	root string
	log  *logger.Logger

	mu      sync.Mutex
	writers map[string]*Writer
}

// NewSet creates an empty writer set for root.
func NewSet(root string, log *logger.Logger) *Set {
	return &Set{
		root:    root,
		log:     log,
		writers: make(map[string]*Writer),
	}
}

// Writer returns the writer for runID, creating it on first use.
func (s *Set) Writer(runID string) (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.writers[runID]; ok {
		return w, nil
	}
	w, err := NewWriter(s.root, runID, s.log)
	if err != nil {
		return nil, err
	}
	s.writers[runID] = w
	return w, nil
}

// Len returns the number of open writers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writers)
}

// Close closes every writer and returns the first error.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, w := range s.writers {
		if err := w.Close(); err != nil {
			s.log.Warnf("Failed to close journal for run %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(s.writers, id)
	}
	return firstErr
}
