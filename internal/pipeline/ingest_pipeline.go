package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"scanlens/internal/journal"
	"scanlens/internal/logger"
	"scanlens/internal/metrics"
	"scanlens/pkg/models"
)

// Source yields raw messages. Pop returns nil, nil when nothing arrived
// within its own wait.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// IngestPipeline pops JSON records from a Source and appends each one to the
// journal of the run it names. A single write loop keeps per-run order.
type IngestPipeline struct {
	source     Source
	writers    *journal.Set
	defaultRun string
	log        *logger.Logger
	retryWait  time.Duration
}

// NewIngestPipeline creates a pipeline. Records without a run_id go to defaultRun.
func NewIngestPipeline(source Source, writers *journal.Set, defaultRun string, log *logger.Logger) *IngestPipeline {
	return &IngestPipeline{
		source:     source,
		writers:    writers,
		defaultRun: defaultRun,
		log:        log,
		retryWait:  500 * time.Millisecond,
	}
}

// Run consumes until ctx is done.
func (p *IngestPipeline) Run(ctx context.Context) error {
	p.log.Infof("Ingest pipeline started (default run %s)", p.defaultRun)

	msgCh := make(chan []byte, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	p.writeLoop(msgCh)
	wg.Wait()
	p.log.Infof("Ingest pipeline stopped")
	return ctx.Err()
}

// Close releases the source and flushes every journal.
func (p *IngestPipeline) Close() error {
	if err := p.writers.Close(); err != nil {
		p.log.Errorf("Failed to close journals: %v", err)
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *IngestPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Errorf("Failed to pop message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryWait):
			}
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *IngestPipeline) writeLoop(in <-chan []byte) {
	for payload := range in {
		p.ingest(payload)
	}
}

func (p *IngestPipeline) ingest(payload []byte) {
	var record map[string]interface{}
	if err := json.Unmarshal(payload, &record); err != nil || record == nil {
		metrics.IngestMessages.WithLabelValues("malformed").Inc()
		p.log.Warnf("Skipping malformed ingest message: %.256s", payload)
		return
	}

	runID := models.FieldString(record["run_id"])
	if runID == "" {
		runID = p.defaultRun
	}
	w, err := p.writers.Writer(runID)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("invalid_run").Inc()
		p.log.Warnf("Skipping ingest message for run %q: %v", runID, err)
		return
	}

	w.AppendRaw(record)
	metrics.IngestMessages.WithLabelValues("appended").Inc()
}
