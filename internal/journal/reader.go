package journal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"scanlens/internal/logger"
	"scanlens/pkg/models"
)

// ReadAll parses every record of the journal at path in append order.
// Malformed lines are skipped with a warning. A missing file returns ErrNotFound.
func ReadAll(path string, log *logger.Logger) ([]models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	return Read(f, log)
}

// Read parses records from r until EOF.
func Read(r io.Reader, log *logger.Logger) ([]models.Event, error) {
	events := make([]models.Event, 0, 256)
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok := decodeLine(line, log); ok {
				events = append(events, ev)
			}
		}
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
	}
}

// decodeLine trims and parses one line, logging and skipping bad records.
func decodeLine(line []byte, log *logger.Logger) (models.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return models.Event{}, false
	}
	ev, err := ParseLine(line, log)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			log.Warnf("Skipping malformed JSON line: %s", truncate(string(line), 256))
		} else {
			log.Warnf("Skipping non-object journal line: %s", truncate(string(line), 256))
		}
		return models.Event{}, false
	}
	return ev, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
