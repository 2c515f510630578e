package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"scanlens/internal/logger"
	"scanlens/internal/metrics"
	"scanlens/pkg/models"
)

const (
	// DefaultPollInterval is the wait between reads when no new line is available.
	DefaultPollInterval = 500 * time.Millisecond

	readChunk = 64 * 1024
)

// Follower tails journals as they grow. Each Follow call owns its own file
// handle and offset; a Follower may be shared.
type Follower struct {
	pollInterval time.Duration
	useFsnotify  bool
	log          *logger.Logger
}

// NewFollower creates a Follower. A non-positive poll interval uses
// DefaultPollInterval. With useFsnotify, write notifications cut the wait short.
func NewFollower(pollInterval time.Duration, useFsnotify bool, log *logger.Logger) *Follower {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Follower{
		pollInterval: pollInterval,
		useFsnotify:  useFsnotify,
		log:          log,
	}
}

// Follow delivers every complete line appended to path to fn, in order, until
// ctx is done or fn returns an error. With startAtEnd, lines present when the
// file is opened are skipped. A line is delivered only once its terminating
// newline has been written. Truncation and rotation are not detected.
func (f *Follower) Follow(ctx context.Context, path string, startAtEnd bool, fn func(models.Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var offset int64
	if startAtEnd {
		if offset, err = file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek journal: %w", err)
		}
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	wake := make(chan struct{}, 1)
	if f.useFsnotify {
		if stop := f.watch(path, wake); stop != nil {
			defer stop()
		}
	}

	timer := time.NewTimer(f.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := f.drain(ctx, file, &offset, fn); err != nil {
			return err
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(f.pollInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		case <-timer.C:
		}
	}
}

// drain reads every complete line past offset and advances offset past them.
// A trailing partial line is left unread for the next pass.
func (f *Follower) drain(ctx context.Context, file *os.File, offset *int64, fn func(models.Event) error) error {
	chunk := make([]byte, readChunk)
	var pending []byte

	for {
		n, err := file.ReadAt(chunk, *offset+int64(len(pending)))
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx+1]
				pending = pending[idx+1:]
				*offset += int64(idx + 1)

				if ev, ok := decodeLine(line, f.log); ok {
					if err := fn(ev); err != nil {
						return err
					}
					metrics.RecordsStreamed.Inc()
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		}
		if n == 0 || err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
	}
}

// watch signals wake on writes to path. It returns nil when no watcher could
// be installed, in which case Follow relies on polling alone.
func (f *Follower) watch(path string, wake chan<- struct{}) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.log.Warnf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}
	if err := watcher.Add(path); err != nil {
		f.log.Warnf("fsnotify: failed to watch %s: %v (falling back to polling)", path, err)
		watcher.Close()
		return nil
	}

	clean := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != clean || !event.Has(fsnotify.Write) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warnf("fsnotify: watcher error on %s: %v", path, err)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}
}
