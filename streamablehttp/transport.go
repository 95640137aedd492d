package streamablehttp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/enZane/stream-http-edge-transport/eventstore"
	"github.com/enZane/stream-http-edge-transport/internal/logctx"
	"github.com/enZane/stream-http-edge-transport/jsonrpc"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	// Canonical header names; Go matches request headers case-insensitively.
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	// standaloneStreamID is the reserved registry key for the single
	// server-push stream opened by GET.
	standaloneStreamID = "_GET_stream"

	methodInitialize = "initialize"
)

// DefaultMaxBodyBytes caps POST bodies at 4 MiB unless overridden.
const DefaultMaxBodyBytes = 4 << 20

// NewSessionID returns a cryptographically random session id. Pass it to
// WithSessionIDGenerator for a stateful transport with UUID sessions.
func NewSessionID() string { return uuid.NewString() }

// MessageMeta accompanies every message handed to OnMessage.
type MessageMeta struct {
	// AuthInfo is the opaque value attached to the request context by outer
	// middleware via WithAuthInfo, or nil.
	AuthInfo any
}

// Transport is a server-side streamable HTTP transport bound to one logical
// MCP session. It implements http.Handler; mount it at the MCP endpoint and
// route all methods to it.
//
// The callback fields are read when messages are dispatched; set them before
// calling Start.
type Transport struct {
	// OnMessage is invoked for each inbound JSON-RPC message after all gates
	// pass, in payload order.
	OnMessage func(ctx context.Context, msg *jsonrpc.AnyMessage, meta MessageMeta)
	// OnError is invoked for frame-write and replay failures. These are
	// reported, not fatal: the transport keeps serving.
	OnError func(err error)
	// OnClose is invoked once when the transport closes.
	OnClose func()
	// OnSessionInitialized is invoked once per successful initialize POST
	// with the assigned session id (empty in stateless mode).
	OnSessionInitialized func(sessionID string)

	log             *slog.Logger
	sessionIDGen    func() string
	jsonResponse    bool
	maxBodyBytes    int64
	protocolVersion string
	store           eventstore.Store

	done chan struct{}

	mu          sync.Mutex
	started     bool
	closed      bool
	sessionID   string
	initialized bool

	// streams holds the live SSE sink per stream id. A request-bearing POST
	// in SSE mode, a GET, and a replayed GET each register exactly one
	// entry; an entry disappears on consumer cancel, on completion of all
	// correlated requests, or on Close.
	streams map[string]*stream

	// requestStream indexes each in-flight request id (by jsonrpc Key) to
	// the stream its response must be delivered on.
	requestStream map[string]string

	// streamRequests records, per stream, the correlated request ids in the
	// order they were discovered. It survives consumer cancellation so that
	// late responses can still complete and clean up the stream.
	streamRequests map[string][]string

	// responses buffers terminal messages per request id until every request
	// on the stream has one.
	responses map[string]*jsonrpc.AnyMessage

	// pending holds the JSON-mode resolver per stream id: a 1-buffered
	// channel the POST handler goroutine is waiting on.
	pending map[string]chan []*jsonrpc.AnyMessage
}

// stream is one live SSE sink.
type stream struct {
	id        string
	sse       *sseWriter
	done      chan struct{}
	closeOnce sync.Once
}

func newStream(id string, sse *sseWriter) *stream {
	return &stream{id: id, sse: sse, done: make(chan struct{})}
}

// close is idempotent; closing an already-closed stream is tolerated
// everywhere it can happen.
func (s *stream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Option configures a Transport.
type Option func(*Transport)

// WithSessionIDGenerator makes the transport stateful: the generator runs
// once on the first successful initialize POST and every subsequent request
// must present the resulting Mcp-Session-Id. Without this option the
// transport is stateless and performs no session validation.
func WithSessionIDGenerator(gen func() string) Option {
	return func(t *Transport) { t.sessionIDGen = gen }
}

// WithJSONResponse switches request-bearing POSTs from SSE streaming to a
// single batched application/json response.
func WithJSONResponse() Option {
	return func(t *Transport) { t.jsonResponse = true }
}

// WithEventStore enables resumability. Outbound SSE frames are stamped with
// store-assigned event ids and GETs carrying Last-Event-Id replay through
// the store.
func WithEventStore(store eventstore.Store) Option {
	return func(t *Transport) { t.store = store }
}

// WithLogger sets the slog logger. If not provided, slog.Default is used.
func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithMaxBodyBytes overrides the POST body size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(t *Transport) { t.maxBodyBytes = n }
}

// WithProtocolVersion advertises the negotiated MCP protocol version on
// session-bearing responses via the Mcp-Protocol-Version header.
func WithProtocolVersion(v string) Option {
	return func(t *Transport) { t.protocolVersion = v }
}

// New constructs a Transport. Connections are per-request; the transport
// performs no I/O until mounted and started.
func New(opts ...Option) *Transport {
	t := &Transport{
		log:            slog.Default(),
		maxBodyBytes:   DefaultMaxBodyBytes,
		done:           make(chan struct{}),
		streams:        make(map[string]*stream),
		requestStream:  make(map[string]string),
		streamRequests: make(map[string][]string),
		responses:      make(map[string]*jsonrpc.AnyMessage),
		pending:        make(map[string]chan []*jsonrpc.AnyMessage),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = slog.New(logctx.Handler{Handler: t.log.Handler()})
	return t
}

// Start marks the transport ready. It performs no I/O; a second call fails
// with ErrAlreadyStarted.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true
	return nil
}

// Close tears the session down: every registered stream is closed
// (tolerating already-closed ones), all correlation state is cleared, and
// OnClose fires once. Subsequent calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	streams := make([]*stream, 0, len(t.streams))
	for _, st := range t.streams {
		streams = append(streams, st)
	}
	t.streams = make(map[string]*stream)
	t.requestStream = make(map[string]string)
	t.streamRequests = make(map[string][]string)
	t.responses = make(map[string]*jsonrpc.AnyMessage)
	t.pending = make(map[string]chan []*jsonrpc.AnyMessage)
	t.sessionID = ""
	t.initialized = false
	t.mu.Unlock()

	close(t.done)
	for _, st := range streams {
		st.close()
	}
	if t.OnClose != nil {
		t.OnClose()
	}
	return nil
}

// SessionID returns the current session id, or "" before initialization and
// in stateless mode.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *Transport) reportError(err error) {
	if cb := t.OnError; cb != nil {
		cb(err)
	}
}

type authInfoKey struct{}

// WithAuthInfo attaches an opaque authentication value to the context.
// Outer middleware calls this before delegating to the transport's
// ServeHTTP; the value travels untouched to MessageMeta.AuthInfo.
func WithAuthInfo(ctx context.Context, info any) context.Context {
	return context.WithValue(ctx, authInfoKey{}, info)
}

// AuthInfoFromContext returns the value attached by WithAuthInfo, or nil.
func AuthInfoFromContext(ctx context.Context) any {
	return ctx.Value(authInfoKey{})
}
