// Package redisstore provides an eventstore.Store backed by Redis Streams,
// letting clients resume across process boundaries. Each transport stream
// maps to one Redis stream key; the Redis entry id doubles as the ordered
// suffix of the event id.
package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/enZane/stream-http-edge-transport/eventstore"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed event store. Defaults can be loaded via
// envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: EVENTS_KEY_PREFIX
	KeyPrefix string `env:"EVENTS_KEY_PREFIX,default=mcp:events:"`
	// MaxLen caps each stream's length (approximate trimming). Zero keeps
	// everything. ENV: EVENTS_MAX_LEN
	MaxLen int64 `env:"EVENTS_MAX_LEN,default=0"`
}

type Store struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:events:"
	}
	return &Store{client: cl, keyPrefix: prefix, maxLen: cfg.MaxLen}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// NewWithClient wraps an existing client, e.g. one pointed at a test server.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "mcp:events:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) streamKey(streamID string) string { return s.keyPrefix + "stream:" + streamID }

func (s *Store) StoreEvent(ctx context.Context, streamID string, data []byte) (string, error) {
	if streamID == "" {
		return "", fmt.Errorf("stream id is required")
	}
	args := &redis.XAddArgs{
		Stream: s.streamKey(streamID),
		Values: map[string]interface{}{"d": data},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return formatEventID(streamID, id), nil
}

func (s *Store) ReplayEventsAfter(ctx context.Context, lastEventID string, send eventstore.SendFunc) (string, error) {
	streamID, entryID, err := parseEventID(lastEventID)
	if err != nil {
		return "", err
	}

	key := s.streamKey(streamID)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("exists: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, lastEventID)
	}
	head, err := s.client.XRange(ctx, key, entryID, entryID).Result()
	if err != nil {
		return "", fmt.Errorf("xrange: %w", err)
	}
	if len(head) == 0 {
		return "", fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, lastEventID)
	}

	// "(" makes the range exclusive of the entry the client already has.
	msgs, err := s.client.XRange(ctx, key, "("+entryID, "+").Result()
	if err != nil {
		return "", fmt.Errorf("xrange: %w", err)
	}
	for _, m := range msgs {
		var payload []byte
		switch v := m.Values["d"].(type) {
		case string:
			payload = []byte(v)
		case []byte:
			payload = v
		default:
			payload = []byte(fmt.Sprintf("%v", v))
		}
		if err := send(ctx, formatEventID(streamID, m.ID), payload); err != nil {
			return "", err
		}
	}
	return streamID, nil
}

// CleanupStream removes a stream's retained events. Best effort.
func (s *Store) CleanupStream(ctx context.Context, streamID string) error {
	c := context.WithoutCancel(ctx)
	_, err := s.client.Del(c, s.streamKey(streamID)).Result()
	return err
}

// Interface compliance
var _ eventstore.Store = (*Store)(nil)

// Event ids are "<streamID>/<redis entry id>". Redis entry ids are
// "<ms>-<seq>" and never contain "/", and stream ids are opaque tokens that
// never contain "/" either, so the first separator is unambiguous.
func formatEventID(streamID, entryID string) string {
	return streamID + "/" + entryID
}

func parseEventID(eventID string) (streamID, entryID string, err error) {
	i := strings.IndexByte(eventID, '/')
	if i <= 0 || i == len(eventID)-1 {
		return "", "", fmt.Errorf("malformed event id %q", eventID)
	}
	return eventID[:i], eventID[i+1:], nil
}
