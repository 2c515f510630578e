package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"scanlens/pkg/models"
)

// ListRuns returns every run directory below root that holds a journal,
// newest first. A missing root yields an empty list.
func ListRuns(root string) ([]models.RunMetadata, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.RunMetadata{}, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	runs := make([]models.RunMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !ValidRunID(entry.Name()) {
			continue
		}
		eventsPath := filepath.Join(root, entry.Name(), EventsFileName)
		if st, err := os.Stat(eventsPath); err != nil || st.IsDir() {
			continue
		}

		meta := models.RunMetadata{ID: entry.Name()}
		if info, err := entry.Info(); err == nil {
			created := info.ModTime().UTC()
			meta.CreatedAt = &created
		}
		count, err := CountLines(eventsPath)
		if err != nil {
			continue
		}
		meta.EventCount = count
		runs = append(runs, meta)
	}

	SortRuns(runs)
	return runs, nil
}

// SortRuns orders runs by creation time descending. Runs without a creation
// time sort last; ties break by id.
func SortRuns(runs []models.RunMetadata) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i].CreatedAt, runs[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return runs[i].ID < runs[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return runs[i].ID < runs[j].ID
		}
	})
}

// CountLines counts newline-delimited lines without decoding them. A final
// line lacking a trailing newline counts as a line.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	count := 0
	var last byte
	read := false
	for {
		n, err := f.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			read = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if read && last != '\n' {
		count++
	}
	return count, nil
}
