package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consejo-social/veeduria/internal/config"
)

// streamClient is the slice of the redis client the stream shipper needs.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// StreamShipper appends each entry to a redis stream so downstream consumers
// (a transparency portal, a SIEM) can follow the log with XREAD.
type StreamShipper struct {
	client streamClient
	stream string
	maxLen int64
}

// NewStreamShipper creates the shipper. It does not dial until first use.
func NewStreamShipper(cfg *config.AuditStreamConfig) (*StreamShipper, error) {
	if cfg.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if cfg.Redis.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return newStreamShipper(client, cfg.Stream, cfg.MaxLen), nil
}

func newStreamShipper(client streamClient, stream string, maxLen int64) *StreamShipper {
	return &StreamShipper{client: client, stream: stream, maxLen: max(maxLen, 0)}
}

// Ship adds one stream record. The action and entity type are separate
// fields so consumers can filter without decoding the entry.
func (s *StreamShipper) Ship(ctx context.Context, entry *LogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":          entry.ID,
			"action":      entry.Action,
			"entity_type": entry.EntityType,
			"entry":       body,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *StreamShipper) Close() error {
	return s.client.Close()
}
