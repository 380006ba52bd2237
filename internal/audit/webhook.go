package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/safego"
	"github.com/consejo-social/veeduria/internal/telemetry"
)

// SignatureHeader carries "sha256=<hex>" of the body keyed by the webhook secret.
const SignatureHeader = "X-Veeduria-Signature"

const (
	webhookQueueSize  = 1000
	webhookRetryDelay = 100 * time.Millisecond
)

// WebhookShipper posts entries as JSON. With BatchSize > 0 entries are queued
// and posted as arrays; otherwise each entry is posted on its own.
type WebhookShipper struct {
	url        string
	headers    map[string]string
	secret     []byte
	maxRetries int
	batchSize  int
	flushEvery time.Duration
	timeout    time.Duration
	client     *http.Client

	mu      sync.RWMutex // guards closed against enqueues racing Close
	closed  bool
	queue   chan *LogEntry
	closing chan struct{}
	done    chan struct{}
}

// NewWebhookShipper validates cfg and, when batching, starts the flush loop.
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = 5 * time.Second
	}

	ws := &WebhookShipper{
		url:        cfg.URL,
		headers:    cfg.Headers,
		maxRetries: max(cfg.MaxRetries, 0),
		batchSize:  max(cfg.BatchSize, 0),
		flushEvery: flush,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cfg.Secret != "" {
		ws.secret = []byte(cfg.Secret)
	}

	if ws.batchSize > 0 {
		ws.queue = make(chan *LogEntry, webhookQueueSize)
		safego.Go("audit_webhook_batches", ws.flushLoop)
	} else {
		close(ws.done)
	}
	return ws, nil
}

// Ship queues the entry when batching. A full queue, or no batching, posts
// the entry synchronously.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.enqueue(entry) {
		return nil
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return ws.post(ctx, body)
}

func (ws *WebhookShipper) enqueue(entry *LogEntry) bool {
	if ws.queue == nil {
		return false
	}
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if ws.closed {
		return false
	}
	select {
	case ws.queue <- entry:
		return true
	default:
		return false
	}
}

// flushLoop owns the pending batch.
func (ws *WebhookShipper) flushLoop() {
	defer close(ws.done)

	ticker := time.NewTicker(ws.flushEvery)
	defer ticker.Stop()

	pending := make([]*LogEntry, 0, ws.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ws.postBatch(pending)
		pending = pending[:0]
	}

	for {
		select {
		case entry := <-ws.queue:
			pending = append(pending, entry)
			if len(pending) >= ws.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.closing:
			for {
				select {
				case entry := <-ws.queue:
					pending = append(pending, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) postBatch(batch []*LogEntry) {
	body, err := json.Marshal(batch)
	if err != nil {
		slog.Error("audit webhook: marshal batch", "entries", len(batch), "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout*time.Duration(ws.maxRetries+1))
	defer cancel()
	if err := ws.post(ctx, body); err != nil {
		telemetry.AuditShipFailuresTotal.Add(float64(len(batch)))
		slog.Error("audit webhook: batch dropped", "url", ws.url, "entries", len(batch), "error", err)
	}
}

// post delivers body, retrying network errors and 5xx with doubling delays.
func (ws *WebhookShipper) post(ctx context.Context, body []byte) error {
	delay := webhookRetryDelay
	var err error
	for attempt := 0; ; attempt++ {
		var retryable bool
		retryable, err = ws.send(ctx, body)
		if err == nil || !retryable || attempt >= ws.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (ws *WebhookShipper) send(ctx context.Context, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}
	if ws.secret != nil {
		req.Header.Set(SignatureHeader, Sign(ws.secret, body))
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return false, nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close stops accepting queued entries and waits for the last flush.
func (ws *WebhookShipper) Close() error {
	ws.mu.Lock()
	if !ws.closed {
		ws.closed = true
		close(ws.closing)
	}
	ws.mu.Unlock()
	<-ws.done
	return nil
}
