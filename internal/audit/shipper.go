// Package audit records consequential actions in the append-only audit_logs
// table and forwards committed entries to external sinks.
//
// Writer inserts entries inside the caller's transaction, so an action and its
// audit row commit or roll back together. Shippers only ever see entries whose
// transaction committed; a failing sink is logged and never affects the
// request that produced the entry.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/db/models"
)

// LogEntry is the shipped form of an audit entry
type LogEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	ActorType  string          `json:"actor_type"`
	EntityType string          `json:"entity_type"`
	EntityID   *int64          `json:"entity_id,omitempty"`
	SourceIP   string          `json:"source_ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

// NewLogEntry converts a stored entry for shipping.
func NewLogEntry(e *models.AuditEntry) *LogEntry {
	return &LogEntry{
		Timestamp:  e.CreatedAt,
		ID:         e.ID,
		Action:     e.Action,
		ActorID:    e.ActorID,
		ActorType:  e.ActorType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		SourceIP:   e.SourceIP,
		UserAgent:  e.UserAgent,
		Metadata:   e.Metadata,
		Before:     e.Before,
		After:      e.After,
	}
}

// Shipper forwards committed entries to one destination.
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes pending entries and releases resources.
	Close() error
}

// MultiShipper fans an entry out to every configured destination.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []namedShipper
}

type namedShipper struct {
	name string
	Shipper
}

// NewMultiShipper builds one shipper per enabled config. Nothing is left open
// when a config is invalid.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		s, err := newShipper(cfg)
		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("audit shipper %d (%s): %w", i, cfg.Type, err)
		}
		ms.Add(cfg.Type, s)
	}
	return ms, nil
}

func newShipper(cfg config.AuditShipperConfig) (Shipper, error) {
	switch cfg.Type {
	case "webhook":
		if cfg.Webhook == nil {
			return nil, errors.New("webhook section is required")
		}
		return NewWebhookShipper(cfg.Webhook)
	case "file":
		if cfg.File == nil {
			return nil, errors.New("file section is required")
		}
		return NewFileShipper(cfg.File)
	case "stream":
		if cfg.Stream == nil {
			return nil, errors.New("stream section is required")
		}
		return NewStreamShipper(cfg.Stream)
	default:
		return nil, fmt.Errorf("unknown shipper type %q", cfg.Type)
	}
}

// Add registers another destination under name, which labels its failures.
func (ms *MultiShipper) Add(name string, s Shipper) {
	ms.mu.Lock()
	ms.shippers = append(ms.shippers, namedShipper{name: name, Shipper: s})
	ms.mu.Unlock()
}

// Len reports how many destinations are configured.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship tries every destination and joins their failures.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.WarnContext(ctx, "audit shipper failed",
				"shipper", s.name, "action", entry.Action, "entity_type", entry.EntityType, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every destination and drops them.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	ms.shippers = nil
	return errors.Join(errs...)
}
