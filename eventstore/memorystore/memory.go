// Package memorystore provides an in-memory eventstore.Store. Events live in
// per-stream append-only logs; ids embed the stream id so a Last-Event-Id
// value alone is enough to resume.
package memorystore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/enZane/stream-http-edge-transport/eventstore"
)

// DefaultMaxEventsPerStream bounds per-stream retention unless overridden.
const DefaultMaxEventsPerStream = 1024

// Store is an in-memory implementation of eventstore.Store.
type Store struct {
	mu      sync.RWMutex
	streams map[string][]event
	counter atomic.Int64

	maxPerStream int
}

type event struct {
	seq  int64
	data []byte
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEventsPerStream caps how many events are retained per stream. Older
// events are dropped first; replaying past a dropped event fails with
// eventstore.ErrEventNotFound.
func WithMaxEventsPerStream(n int) Option {
	return func(s *Store) { s.maxPerStream = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		streams:      make(map[string][]event),
		maxPerStream: DefaultMaxEventsPerStream,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) StoreEvent(ctx context.Context, streamID string, data []byte) (string, error) {
	if streamID == "" {
		return "", fmt.Errorf("stream id is required")
	}
	seq := s.counter.Add(1)

	s.mu.Lock()
	log := append(s.streams[streamID], event{seq: seq, data: append([]byte(nil), data...)})
	if s.maxPerStream > 0 && len(log) > s.maxPerStream {
		log = log[len(log)-s.maxPerStream:]
	}
	s.streams[streamID] = log
	s.mu.Unlock()

	return formatEventID(streamID, seq), nil
}

func (s *Store) ReplayEventsAfter(ctx context.Context, lastEventID string, send eventstore.SendFunc) (string, error) {
	streamID, seq, err := parseEventID(lastEventID)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	log, ok := s.streams[streamID]
	if !ok {
		s.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, lastEventID)
	}
	found := false
	var pending []event
	for _, ev := range log {
		if ev.seq == seq {
			found = true
			continue
		}
		if ev.seq > seq {
			pending = append(pending, event{seq: ev.seq, data: append([]byte(nil), ev.data...)})
		}
	}
	s.mu.RUnlock()

	if !found {
		return "", fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, lastEventID)
	}

	for _, ev := range pending {
		if err := send(ctx, formatEventID(streamID, ev.seq), ev.data); err != nil {
			return "", err
		}
	}
	return streamID, nil
}

// Interface compliance
var _ eventstore.Store = (*Store)(nil)

// Event ids are "<streamID>_<seq>". The stream id is a UUID or the reserved
// standalone id, neither of which ends in "_<digits>", so the last separator
// is unambiguous.
func formatEventID(streamID string, seq int64) string {
	return streamID + "_" + strconv.FormatInt(seq, 10)
}

func parseEventID(eventID string) (streamID string, seq int64, err error) {
	i := strings.LastIndexByte(eventID, '_')
	if i <= 0 || i == len(eventID)-1 {
		return "", 0, fmt.Errorf("malformed event id %q", eventID)
	}
	seq, err = strconv.ParseInt(eventID[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed event id %q", eventID)
	}
	return eventID[:i], seq, nil
}
