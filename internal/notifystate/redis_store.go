package notifystate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"scanlens/pkg/models"
)

// RedisConfig configures Redis access for notification state.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RunStats summarizes the findings delivered for one run.
type RunStats struct {
	RunID      string           `json:"run_id"`
	Delivered  int64            `json:"delivered"`
	BySeverity map[string]int64 `json:"by_severity"`
	FirstTS    time.Time        `json:"first_ts,omitempty"`
	LastTS     time.Time        `json:"last_ts,omitempty"`
}

// RedisStore remembers which findings were already posted for each run so a
// restarted watcher does not post them again.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed notification store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "scanlens:notify"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis notify-state: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// Claim marks a finding as sent. It reports false when the finding was
// already claimed.
func (s *RedisStore) Claim(ctx context.Context, runID, findingID string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.sentKey(runID), findingID).Result()
	if err != nil {
		return false, fmt.Errorf("claim finding %s: %w", findingID, err)
	}
	return added == 1, nil
}

// Release drops a claim so the finding is posted again next time.
func (s *RedisStore) Release(ctx context.Context, runID, findingID string) error {
	if err := s.client.SRem(ctx, s.sentKey(runID), findingID).Err(); err != nil {
		return fmt.Errorf("release finding %s: %w", findingID, err)
	}
	return nil
}

// Delivered updates the per-run counters for a posted finding.
func (s *RedisStore) Delivered(ctx context.Context, runID string, finding models.Finding) error {
	severity := strings.ToLower(strings.TrimSpace(finding.Severity))
	if severity == "" {
		severity = "unknown"
	}
	ts := float64(finding.TS.Unix())

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.statsKey(runID), "delivered", 1)
	pipe.HIncrBy(ctx, s.statsKey(runID), "severity:"+severity, 1)
	pipe.ZAddArgs(ctx, s.firstSetKey(), redis.ZAddArgs{LT: true, Members: []redis.Z{{Score: ts, Member: runID}}})
	pipe.ZAddArgs(ctx, s.lastSetKey(), redis.ZAddArgs{GT: true, Members: []redis.Z{{Score: ts, Member: runID}}})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update notify-state keys: %w", err)
	}
	return nil
}

// Stats returns the delivery counters of one run.
func (s *RedisStore) Stats(ctx context.Context, runID string) (RunStats, error) {
	st := RunStats{RunID: runID, BySeverity: map[string]int64{}}

	hash, err := s.client.HGetAll(ctx, s.statsKey(runID)).Result()
	if err != nil {
		return st, fmt.Errorf("read notify-state stats: %w", err)
	}
	for field, raw := range hash {
		n, _ := strconv.ParseInt(raw, 10, 64)
		switch {
		case field == "delivered":
			st.Delivered = n
		case strings.HasPrefix(field, "severity:"):
			st.BySeverity[strings.TrimPrefix(field, "severity:")] = n
		}
	}

	if first, err := s.client.ZScore(ctx, s.firstSetKey(), runID).Result(); err == nil {
		st.FirstTS = time.Unix(int64(first), 0).UTC()
	}
	if last, err := s.client.ZScore(ctx, s.lastSetKey(), runID).Result(); err == nil {
		st.LastTS = time.Unix(int64(last), 0).UTC()
	}
	return st, nil
}

// Reset forgets every claim and counter of a run.
func (s *RedisStore) Reset(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.sentKey(runID), s.statsKey(runID))
	pipe.ZRem(ctx, s.firstSetKey(), runID)
	pipe.ZRem(ctx, s.lastSetKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reset notify-state for %s: %w", runID, err)
	}
	return nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) sentKey(runID string) string {
	return s.prefix + ":sent:" + runID
}

func (s *RedisStore) statsKey(runID string) string {
	return s.prefix + ":stats:" + runID
}

func (s *RedisStore) firstSetKey() string {
	return s.prefix + ":first"
}

func (s *RedisStore) lastSetKey() string {
	return s.prefix + ":last"
}
