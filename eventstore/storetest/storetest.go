// Package storetest provides a conformance suite for eventstore.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/enZane/stream-http-edge-transport/eventstore"
)

type replayed struct {
	eventID string
	data    string
}

// RunStoreTests exercises the Store contract against a fresh store per
// subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) eventstore.Store) {
	t.Helper()

	t.Run("ReplayAfterEarlierEvent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var ids []string
		for i := 0; i < 3; i++ {
			id, err := s.StoreEvent(ctx, "stream-a", []byte(fmt.Sprintf(`{"n":%d}`, i)))
			if err != nil {
				t.Fatalf("StoreEvent: %v", err)
			}
			ids = append(ids, id)
		}
		for i := 1; i < len(ids); i++ {
			if ids[i] == ids[i-1] {
				t.Fatalf("event ids must be distinct, got %q twice", ids[i])
			}
		}

		var got []replayed
		streamID, err := s.ReplayEventsAfter(ctx, ids[0], func(ctx context.Context, eventID string, data []byte) error {
			got = append(got, replayed{eventID: eventID, data: string(data)})
			return nil
		})
		if err != nil {
			t.Fatalf("ReplayEventsAfter: %v", err)
		}
		if streamID != "stream-a" {
			t.Errorf("stream id: want %q, got %q", "stream-a", streamID)
		}
		if len(got) != 2 {
			t.Fatalf("replayed events: want 2, got %d", len(got))
		}
		for i, r := range got {
			if want := ids[i+1]; r.eventID != want {
				t.Errorf("event %d id: want %q, got %q", i, want, r.eventID)
			}
			if want := fmt.Sprintf(`{"n":%d}`, i+1); r.data != want {
				t.Errorf("event %d data: want %s, got %s", i, want, r.data)
			}
		}
	})

	t.Run("ReplayAfterLatestYieldsNothing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var last string
		for i := 0; i < 3; i++ {
			id, err := s.StoreEvent(ctx, "stream-a", []byte(`{}`))
			if err != nil {
				t.Fatalf("StoreEvent: %v", err)
			}
			last = id
		}

		count := 0
		streamID, err := s.ReplayEventsAfter(ctx, last, func(ctx context.Context, eventID string, data []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ReplayEventsAfter: %v", err)
		}
		if streamID != "stream-a" {
			t.Errorf("stream id: want %q, got %q", "stream-a", streamID)
		}
		if count != 0 {
			t.Errorf("want no replayed events, got %d", count)
		}
	})

	t.Run("ReplayUnknownEventFails", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		if _, err := s.ReplayEventsAfter(ctx, "no-such-stream_42", func(ctx context.Context, eventID string, data []byte) error {
			t.Fatal("send must not be called for an unknown event id")
			return nil
		}); err == nil {
			t.Fatal("want error for unknown event id")
		} else if !errors.Is(err, eventstore.ErrEventNotFound) {
			t.Logf("unknown event id surfaced as: %v", err)
		}
	})

	t.Run("StreamsAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		aID, err := s.StoreEvent(ctx, "stream-a", []byte(`{"s":"a"}`))
		if err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
		if _, err := s.StoreEvent(ctx, "stream-b", []byte(`{"s":"b"}`)); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
		if _, err := s.StoreEvent(ctx, "stream-a", []byte(`{"s":"a2"}`)); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}

		var got []replayed
		streamID, err := s.ReplayEventsAfter(ctx, aID, func(ctx context.Context, eventID string, data []byte) error {
			got = append(got, replayed{eventID: eventID, data: string(data)})
			return nil
		})
		if err != nil {
			t.Fatalf("ReplayEventsAfter: %v", err)
		}
		if streamID != "stream-a" {
			t.Errorf("stream id: want %q, got %q", "stream-a", streamID)
		}
		if len(got) != 1 || got[0].data != `{"s":"a2"}` {
			t.Errorf("replay must only carry stream-a events, got %+v", got)
		}
	})
}
