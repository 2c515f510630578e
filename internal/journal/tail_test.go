package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanlens/internal/logger"
	"scanlens/pkg/models"
)

type followResult struct {
	events chan models.Event
	done   chan error
}

func startFollow(t *testing.T, ctx context.Context, f *Follower, path string, startAtEnd bool) followResult {
	t.Helper()
	res := followResult{
		events: make(chan models.Event, 64),
		done:   make(chan error, 1),
	}
	go func() {
		res.done <- f.Follow(ctx, path, startAtEnd, func(ev models.Event) error {
			res.events <- ev
			return nil
		})
	}()
	return res
}

func appendString(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func nextEvent(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func TestFollowDeliversOnlyAppendedLines(t *testing.T) {
	for _, useFsnotify := range []bool{false, true} {
		t.Run(map[bool]string{false: "polling", true: "fsnotify"}[useFsnotify], func(t *testing.T) {
			path := writeJournal(t,
				`{"ts":"2025-01-01T00:00:00Z","type":"old","n":1}`,
				`{"ts":"2025-01-01T00:00:00Z","type":"old","n":2}`+"\n",
			)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			f := NewFollower(20*time.Millisecond, useFsnotify, logger.Nop())
			res := startFollow(t, ctx, f, path, true)
			time.Sleep(50 * time.Millisecond)

			appendString(t, path, `{"type":"new","n":1}`+"\n")
			appendString(t, path, "not json\n")
			appendString(t, path, `{"type":"new","n":2}`+"\n"+`{"type":"new","n":3}`+"\n")

			for i := 1; i <= 3; i++ {
				ev := nextEvent(t, res.events)
				assert.Equal(t, "new", ev.Type)
				assert.EqualValues(t, i, ev.Raw["n"])
			}

			cancel()
			select {
			case err := <-res.done:
				assert.NoError(t, err)
			case <-time.After(3 * time.Second):
				t.Fatal("follow did not stop after cancel")
			}
		})
	}
}

func TestFollowWaitsForCompleteLine(t *testing.T) {
	path := writeJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := startFollow(t, ctx, NewFollower(20*time.Millisecond, false, logger.Nop()), path, true)
	time.Sleep(50 * time.Millisecond)

	appendString(t, path, `{"type":"split","part":`)
	select {
	case ev := <-res.events:
		t.Fatalf("partial line delivered: %+v", ev.Raw)
	case <-time.After(150 * time.Millisecond):
	}

	appendString(t, path, `"whole"}`+"\n")
	ev := nextEvent(t, res.events)
	assert.Equal(t, "split", ev.Type)
	assert.Equal(t, "whole", ev.Raw["part"])
}

func TestFollowFromStart(t *testing.T) {
	path := writeJournal(t,
		`{"type":"a"}`,
		`{"type":"b"}`+"\n",
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := startFollow(t, ctx, NewFollower(20*time.Millisecond, false, logger.Nop()), path, false)
	assert.Equal(t, "a", nextEvent(t, res.events).Type)
	assert.Equal(t, "b", nextEvent(t, res.events).Type)
}

func TestFollowReturnsCallbackError(t *testing.T) {
	path := writeJournal(t, `{"type":"a"}`+"\n")
	stop := errors.New("consumer gone")

	err := NewFollower(20*time.Millisecond, false, logger.Nop()).Follow(context.Background(), path, false, func(models.Event) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestFollowMissingFile(t *testing.T) {
	err := NewFollower(0, true, logger.Nop()).Follow(context.Background(), filepath.Join(t.TempDir(), EventsFileName), true, func(models.Event) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
