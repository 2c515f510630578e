package journal

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// EventsFileName is the journal file inside each run directory.
const EventsFileName = "events.jsonl"

var (
	// ErrNotFound is returned when a run journal does not exist.
	ErrNotFound = errors.New("run journal not found")
	// ErrInvalidRunID is returned for run ids that cannot name a run directory.
	ErrInvalidRunID = fmt.Errorf("invalid run id: %w", ErrNotFound)
)

// ValidRunID reports whether id names a single directory below the runs root.
func ValidRunID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return filepath.Base(id) == id
}

// EventsPath returns <root>/<runID>/events.jsonl.
func EventsPath(root, runID string) (string, error) {
	if !ValidRunID(runID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return filepath.Join(root, runID, EventsFileName), nil
}
