package findinghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"scanlens/internal/logger"
	"scanlens/internal/metrics"
	"scanlens/pkg/models"
)

// Notification is the body posted for each finding.
type Notification struct {
	RunID   string         `json:"run_id"`
	Finding models.Finding `json:"finding"`
}

// Follower streams a run's appended records.
type Follower interface {
	Follow(ctx context.Context, runID string, startAtEnd bool, fn func(models.Event) error) error
}

// Ledger records delivered findings across watcher restarts.
type Ledger interface {
	Claim(ctx context.Context, runID, findingID string) (bool, error)
	Release(ctx context.Context, runID, findingID string) error
	Delivered(ctx context.Context, runID string, finding models.Finding) error
}

// Writer posts findings to a remote HTTP endpoint.
type Writer struct {
	url     string
	headers map[string]string
	client  *http.Client
	ledger  Ledger
	log     *logger.Logger
}

// Config configures the HTTP writer.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config, log *logger.Logger) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("finding webhook URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// UseLedger makes Watch skip findings the ledger already holds.
func (w *Writer) UseLedger(l Ledger) { w.ledger = l }

// FindingFromEvent extracts the finding carried by a vuln_found record.
func FindingFromEvent(ev models.Event) (models.Finding, bool) {
	vuln, ok := ev.Payload.(*models.VulnFound)
	if !ok {
		return models.Finding{}, false
	}
	return models.Finding{
		ID:          vuln.VulnID,
		AgentID:     vuln.AgentID,
		AssetID:     vuln.Target,
		Severity:    vuln.Severity,
		Category:    vuln.Category,
		Description: vuln.Description,
		TS:          ev.TS,
	}, true
}

// WriteFinding posts one finding.
func (w *Writer) WriteFinding(ctx context.Context, runID string, finding models.Finding) error {
	body, err := json.Marshal(Notification{RunID: runID, Finding: finding})
	if err != nil {
		return fmt.Errorf("failed to marshal finding: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}
	return nil
}

// Watch follows runID and posts every vuln_found record appended to it.
// Failed posts are logged and skipped.
func (w *Writer) Watch(ctx context.Context, src Follower, runID string, fromStart bool) error {
	w.log.Infof("Watching run %s for findings, posting to %s", runID, w.url)
	return src.Follow(ctx, runID, !fromStart, func(ev models.Event) error {
		finding, ok := FindingFromEvent(ev)
		if !ok {
			return nil
		}
		if !w.claim(ctx, runID, finding) {
			metrics.FindingsNotified.WithLabelValues("duplicate").Inc()
			return nil
		}
		if err := w.WriteFinding(ctx, runID, finding); err != nil {
			w.release(runID, finding)
			if ctx.Err() != nil {
				return nil
			}
			metrics.FindingsNotified.WithLabelValues("failed").Inc()
			w.log.Warnf("Failed to post finding %s of run %s: %v", finding.ID, runID, err)
			return nil
		}
		metrics.FindingsNotified.WithLabelValues("sent").Inc()
		w.log.Debugf("Posted finding %s of run %s", finding.ID, runID)
		if w.ledger != nil {
			if err := w.ledger.Delivered(ctx, runID, finding); err != nil {
				w.log.Warnf("Failed to record delivery of %s: %v", finding.ID, err)
			}
		}
		return nil
	})
}

// claim reports whether the finding should be posted. Ledger errors fail open.
func (w *Writer) claim(ctx context.Context, runID string, finding models.Finding) bool {
	if w.ledger == nil || finding.ID == "" {
		return true
	}
	fresh, err := w.ledger.Claim(ctx, runID, finding.ID)
	if err != nil {
		w.log.Warnf("Ledger claim for %s failed: %v", finding.ID, err)
		return true
	}
	return fresh
}

func (w *Writer) release(runID string, finding models.Finding) {
	if w.ledger == nil || finding.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.ledger.Release(ctx, runID, finding.ID); err != nil {
		w.log.Warnf("Ledger release for %s failed: %v", finding.ID, err)
	}
}
