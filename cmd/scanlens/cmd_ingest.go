package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scanlens/config"
	inputredis "scanlens/internal/input/redis"
	"scanlens/internal/journal"
	"scanlens/internal/pipeline"
)

func (a *app) redisQueue() (*inputredis.Queue, error) {
	r := a.cfg.ScanLens.Ingest.Redis
	return inputredis.NewQueue(inputredis.Config{
		Addr:            r.Addr,
		Password:        r.Password,
		DB:              r.DB,
		Key:             r.Key,
		BlockTimeout:    r.BlockTimeout,
		MaxMessageBytes: r.MaxMessageBytes,
	})
}

// ingestPipeline connects to the ingest queue and fails if Redis is unreachable.
func (a *app) ingestPipeline() (*pipeline.IngestPipeline, error) {
	q, err := a.redisQueue()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultRedisTimeout)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		q.Close()
		return nil, err
	}
	s := a.cfg.ScanLens
	return pipeline.NewIngestPipeline(q, journal.NewSet(s.Runs.Dir, a.log), s.Ingest.Redis.DefaultRun, a.log), nil
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Append records popped from a Redis list to run journals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.ingestPipeline()
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := p.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func newEmitCmd(opts *rootOptions) *cobra.Command {
	var toRedis bool

	cmd := &cobra.Command{
		Use:   "emit [RUN]",
		Short: "Append JSON records read from stdin, one per line, to a run",
		Long: "Reads one JSON object per line from stdin and appends it to the run's journal.\n" +
			"Without RUN a run id is generated. With --redis the records are pushed to the\n" +
			"ingest list instead, tagged with the run id.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			if runID == "" {
				runID = journal.NewRunID()
			}
			if !journal.ValidRunID(runID) {
				return fmt.Errorf("%w: %q", journal.ErrInvalidRunID, runID)
			}

			var sink func(map[string]interface{}) error
			if toRedis {
				q, err := a.redisQueue()
				if err != nil {
					return err
				}
				defer q.Close()
				sink = func(rec map[string]interface{}) error {
					rec["run_id"] = runID
					data, err := json.Marshal(rec)
					if err != nil {
						return err
					}
					return q.Push(cmd.Context(), data)
				}
			} else {
				w, err := journal.NewWriter(a.cfg.ScanLens.Runs.Dir, runID, a.log)
				if err != nil {
					return err
				}
				defer w.Close()
				sink = func(rec map[string]interface{}) error {
					w.AppendRaw(rec)
					return nil
				}
			}

			n, skipped, err := emitLines(cmd.InOrStdin(), sink)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "emitted %d records to %s (%d skipped)\n", n, runID, skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&toRedis, "redis", false, "push to the Redis ingest list instead of writing the journal")
	return cmd
}

func emitLines(r io.Reader, sink func(map[string]interface{}) error) (int, int, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	n, skipped := 0, 0
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec map[string]interface{}
		if err := json.Unmarshal(line, &rec); err != nil || rec == nil {
			skipped++
			continue
		}
		if err := sink(rec); err != nil {
			return n, skipped, err
		}
		n++
	}
	if err := s.Err(); err != nil {
		return n, skipped, fmt.Errorf("read stdin: %w", err)
	}
	return n, skipped, nil
}
