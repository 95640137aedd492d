package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/enZane/stream-http-edge-transport/eventstore"
	"github.com/enZane/stream-http-edge-transport/eventstore/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test:events:")
}

func TestRedisStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) eventstore.Store {
		return newTestStore(t)
	})
}

func TestCleanupStream(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StoreEvent(ctx, "stream-a", []byte(`{}`))
	if err != nil {
		t.Fatalf("StoreEvent: %v", err)
	}
	if err := s.CleanupStream(ctx, "stream-a"); err != nil {
		t.Fatalf("CleanupStream: %v", err)
	}
	if _, err := s.ReplayEventsAfter(ctx, id, func(ctx context.Context, eventID string, data []byte) error {
		return nil
	}); err == nil {
		t.Fatal("want error replaying a cleaned-up stream")
	}
}

func TestMalformedEventID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ReplayEventsAfter(context.Background(), "garbage", nil); err == nil {
		t.Fatal("want error for malformed event id")
	}
}
