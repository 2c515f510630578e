package runs

import (
	"context"
	"time"

	"scanlens/internal/graph"
	"scanlens/internal/journal"
	"scanlens/internal/logger"
	"scanlens/internal/metrics"
	"scanlens/pkg/models"
)

const (
	// MaxPageSize bounds the page limit.
	MaxPageSize = 1000
	// DefaultPageSize is used when a caller does not ask for a limit.
	DefaultPageSize = 200
)

// Options configures a Service.
type Options struct {
	Root         string
	MaxPageSize  int
	PollInterval time.Duration
	UseFsnotify  bool
}

// Service answers run queries against the journals below a runs root.
// Every query replays the journal from disk.
type Service struct {
	root     string
	maxPage  int
	follower *journal.Follower
	log      *logger.Logger
}

// NewService creates a Service.
func NewService(opts Options, log *logger.Logger) *Service {
	maxPage := opts.MaxPageSize
	if maxPage <= 0 || maxPage > MaxPageSize {
		maxPage = MaxPageSize
	}
	return &Service{
		root:     opts.Root,
		maxPage:  maxPage,
		follower: journal.NewFollower(opts.PollInterval, opts.UseFsnotify, log),
		log:      log,
	}
}

// Root returns the runs root.
func (s *Service) Root() string { return s.root }

// List returns run metadata, newest first.
func (s *Service) List() ([]models.RunMetadata, error) {
	return journal.ListRuns(s.root)
}

// EventsPath returns the journal path for runID.
func (s *Service) EventsPath(runID string) (string, error) {
	return journal.EventsPath(s.root, runID)
}

// Events parses the whole journal of runID.
func (s *Service) Events(runID string) ([]models.Event, error) {
	path, err := s.EventsPath(runID)
	if err != nil {
		return nil, err
	}
	return journal.ReadAll(path, s.log)
}

// Snapshot replays runID into a graph snapshot.
func (s *Service) Snapshot(runID string) (models.Snapshot, error) {
	events, err := s.Events(runID)
	if err != nil {
		return models.Snapshot{}, err
	}

	start := time.Now()
	snap := graph.Replay(runID, events)
	metrics.SnapshotBuildSeconds.Observe(time.Since(start).Seconds())
	return snap, nil
}

// Page returns raw records [offset, offset+limit) of runID. Offset is
// clamped to >= 0 and limit to [1, max page size].
func (s *Service) Page(runID string, offset, limit int) (models.EventPage, error) {
	events, err := s.Events(runID)
	if err != nil {
		return models.EventPage{}, err
	}

	offset, limit = ClampPage(offset, limit, s.maxPage)
	total := len(events)
	page := models.EventPage{
		RunID:  runID,
		Events: make([]map[string]interface{}, 0),
		Offset: offset,
		Limit:  limit,
		Total:  total,
	}
	if offset >= total {
		return page, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	for _, ev := range events[offset:end] {
		page.Events = append(page.Events, ev.Raw)
	}
	return page, nil
}

// ClampPage applies the paging bounds.
func ClampPage(offset, limit, maxPage int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxPage {
		limit = maxPage
	}
	return offset, limit
}

// Follow streams records appended to runID's journal until ctx is done or fn
// fails.
func (s *Service) Follow(ctx context.Context, runID string, startAtEnd bool, fn func(models.Event) error) error {
	path, err := s.EventsPath(runID)
	if err != nil {
		return err
	}
	return s.follower.Follow(ctx, path, startAtEnd, fn)
}

// Findings returns runID's findings ordered by severity, then time.
func (s *Service) Findings(runID string) ([]models.Finding, error) {
	snap, err := s.Snapshot(runID)
	if err != nil {
		return nil, err
	}
	return RankFindings(snap.Vulnerabilities), nil
}
