package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	defaultLokiBatchSize     = 100
	defaultLokiFlushInterval = 5 * time.Second
	lokiMaxAttempts          = 3
	lokiRetryBase            = 100 * time.Millisecond
	lokiRequestTimeout       = 10 * time.Second
)

var errLokiClosed = errors.New("loki writer is closed")

// LokiConfig contains configuration for Loki writer.
type LokiConfig struct {
	Endpoint      string            // Loki push endpoint URL
	Labels        map[string]string // Stream labels; "job" defaults to v2xtrx
	BatchSize     int
	FlushInterval time.Duration
}

// LokiWriter implements io.Writer and pushes log lines to Grafana Loki in
// batches. Push failures are reported on stderr, never to the logger
// itself.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	httpClient    *http.Client
	errOut        io.Writer

	mu      sync.Mutex
	batch   []logEntry
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type logEntry struct {
	timestamp time.Time
	line      string
}

// lokiPushRequest is the Loki push API body.
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a Loki writer and starts its background flusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki endpoint is required")
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultLokiFlushInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLokiBatchSize
	}
	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "v2xtrx"
	}

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		httpClient:    &http.Client{Timeout: lokiRequestTimeout},
		errOut:        os.Stderr,
		batch:         make([]logEntry, 0, batchSize),
		closeCh:       make(chan struct{}),
	}
	lw.wg.Add(1)
	go lw.flusher()
	return lw, nil
}

// Write implements io.Writer. The line is copied into the batch.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return 0, errLokiClosed
	}
	lw.batch = append(lw.batch, logEntry{timestamp: time.Now(), line: string(bytes.TrimRight(p, "\n"))})
	if len(lw.batch) >= lw.batchSize {
		lw.flushLocked()
	}
	return len(p), nil
}

// Close flushes the remaining lines and stops the flusher.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	err := lw.flushLocked()
	lw.mu.Unlock()

	close(lw.closeCh)
	lw.wg.Wait()
	return err
}

func (lw *LokiWriter) flusher() {
	defer lw.wg.Done()
	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lw.mu.Lock()
			if !lw.closed {
				lw.flushLocked()
			}
			lw.mu.Unlock()
		case <-lw.closeCh:
			return
		}
	}
}

// flushLocked pushes the batch. A batch that cannot be delivered is
// dropped. Must be called with lw.mu held.
func (lw *LokiWriter) flushLocked() error {
	if len(lw.batch) == 0 {
		return nil
	}
	values := make([][]string, len(lw.batch))
	for i, e := range lw.batch {
		values[i] = []string{strconv.FormatInt(e.timestamp.UnixNano(), 10), e.line}
	}
	lw.batch = lw.batch[:0]

	data, err := json.Marshal(lokiPushRequest{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal loki request: %w", err)
	}
	if err := lw.sendWithRetry(data); err != nil {
		fmt.Fprintf(lw.errOut, "loki: dropped %d log lines: %v\n", len(values), err)
		return err
	}
	return nil
}

// sendWithRetry pushes data with exponential backoff.
func (lw *LokiWriter) sendWithRetry(data []byte) error {
	var lastErr error
	for attempt := 0; attempt < lokiMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lokiRetryBase << (attempt - 1))
		}
		if lastErr = lw.send(data); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("loki push failed after %d attempts: %w", lokiMaxAttempts, lastErr)
}

func (lw *LokiWriter) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), lokiRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return nil
}
