package memorystore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/enZane/stream-http-edge-transport/eventstore"
	"github.com/enZane/stream-http-edge-transport/eventstore/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreTests(t, func(t *testing.T) eventstore.Store {
		return New()
	})
}

func TestRetentionCap(t *testing.T) {
	ctx := context.Background()
	s := New(WithMaxEventsPerStream(2))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.StoreEvent(ctx, "stream-a", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
		ids = append(ids, id)
	}

	// The first event has been evicted, so its id no longer resumes.
	if _, err := s.ReplayEventsAfter(ctx, ids[0], func(ctx context.Context, eventID string, data []byte) error {
		return nil
	}); !errors.Is(err, eventstore.ErrEventNotFound) {
		t.Fatalf("want ErrEventNotFound for evicted event, got %v", err)
	}

	// The second still does, replaying only the third.
	count := 0
	if _, err := s.ReplayEventsAfter(ctx, ids[1], func(ctx context.Context, eventID string, data []byte) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("ReplayEventsAfter: %v", err)
	}
	if count != 1 {
		t.Errorf("want 1 replayed event, got %d", count)
	}
}

func TestMalformedEventID(t *testing.T) {
	s := New()
	if _, err := s.ReplayEventsAfter(context.Background(), "garbage", nil); err == nil {
		t.Fatal("want error for malformed event id")
	}
}
