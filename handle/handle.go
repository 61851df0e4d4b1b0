// Package handle implements spec.md §4.3: the single entry point for
// sending and receiving messages across any transport, layering matchtag
// allocation, RPC tracking, requeue semantics, and aux storage on top of a
// connector.Connector.
//
// Grounded on inprocgrpc/channel.go's Channel (the "one object fronting a
// transport, with per-call option plumbing" shape) and eventloop/
// options.go's functional-options pattern for construction; the requeue
// deque reuses msgdeque.Deque directly, in SingleThread mode, since a
// handle (unlike the interthread connector) is never shared across
// goroutines per spec.md §5.
package handle

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/resourcefab/msgfabric/aux"
	"github.com/resourcefab/msgfabric/connector"
	"github.com/resourcefab/msgfabric/dispatch"
	"github.com/resourcefab/msgfabric/internal/flogging"
	"github.com/resourcefab/msgfabric/matchtag"
	"github.com/resourcefab/msgfabric/msg"
	"github.com/resourcefab/msgfabric/msgdeque"
	"github.com/resourcefab/msgfabric/rpctrack"
)

// Flag is the set of handle-open flags spec.md §4.3 accepts.
type Flag uint32

const (
	Trace Flag = 1 << iota
	Clone
	Nonblock
	Matchdebug
	// NoSub is test-only suppression of a connector's own subscribe-on-
	// connect behavior (spec.md §4.3); its bit position must match
	// connector.NoSub, since it reaches a Factory only via the plain
	// uint32 Open/Wrap already pass through.
	NoSub
	RPCTrack
	NoRequeue
)

// Errors matching spec.md §7's taxonomy for this layer.
var (
	ErrInvalid      = errors.New("handle: invalid argument")
	ErrNotSupport   = connector.ErrNotSupport // ENOSYS
	ErrIllegalFlag  = errors.New("handle: flag not accepted by open")
	ErrNoRequeue    = errors.New("handle: requeue illegal under NOREQUEUE")
	ErrRPCTrackOnly = errors.New("handle: RPCTRACK is creation-time-only")
	ErrAgain        = errors.New("handle: EAGAIN")
)

// openFlagMask is every bit Open accepts; anything else is EINVAL (spec.md
// "flags outside this set fail with EINVAL").
const openFlagMask = Trace | Clone | Nonblock | Matchdebug | NoSub | RPCTrack | NoRequeue

// Where direction for Requeue (spec.md §4.3 "requeue(msg, FRONT|TAIL)").
type Where int

const (
	Tail Where = iota
	Front
)

// CommsErrorFunc is invoked on transient transport errors during
// send/recv. Returning true retries the operation once (spec.md "On
// ECONNRESET and related transient errors, the handle invokes the user's
// registered comms-error callback; if it returns 0, the operation is
// retried" — note spec.md's "if it returns 0" refers to the original's
// errno-style convention where 0 means "handled, retry"; this port uses a
// plain bool with the same retry-on-true meaning).
type CommsErrorFunc func(h *Handle, err error) (retry bool)

// Counters tracks per-type send/receive counts (spec.md §4.7/SPEC_FULL.md
// §4.7 "Handle-level counters").
type Counters struct {
	TxRequest, TxResponse, TxEvent, TxControl   atomic.Int64
	RxRequest, RxResponse, RxEvent, RxControl   atomic.Int64
}

func (c *Counters) countTx(t msg.Type) {
	switch t {
	case msg.Request:
		c.TxRequest.Add(1)
	case msg.Response:
		c.TxResponse.Add(1)
	case msg.Event:
		c.TxEvent.Add(1)
	case msg.Control:
		c.TxControl.Add(1)
	}
}

func (c *Counters) countRx(t msg.Type) {
	switch t {
	case msg.Request:
		c.RxRequest.Add(1)
	case msg.Response:
		c.RxResponse.Add(1)
	case msg.Event:
		c.RxEvent.Add(1)
	case msg.Control:
		c.RxControl.Add(1)
	}
}

// Handle is spec.md §4.3's Handle. The zero value is not valid; use Open.
type Handle struct {
	mu sync.Mutex

	uri   string
	flags Flag
	conn  connector.Connector

	parent   *Handle
	usecount int32 // ancestor's clone usecount

	matchtags *matchtag.Pool
	tracker   *rpctrack.Tracker // nil unless RPCTrack

	requeue *msgdeque.Deque // NoRequeue leaves this nil

	Dispatch *dispatch.Dispatcher

	aux aux.Container

	commsErr CommsErrorFunc

	Counters Counters
	promTx   *prometheus.CounterVec
	promRx   *prometheus.CounterVec

	log *flogging.Logger
}

// Option configures Open/Clone.
type Option func(*Handle)

// WithLogger attaches a structured logger.
func WithLogger(l *flogging.Logger) Option {
	return func(h *Handle) { h.log = flogging.OrDiscard(l) }
}

// WithCommsErrorFunc registers the comms-error callback.
func WithCommsErrorFunc(f CommsErrorFunc) Option {
	return func(h *Handle) { h.commsErr = f }
}

// WithPrometheus enables per-type Counter export alongside the always-on
// in-memory Counters (SPEC_FULL.md §4.7: "the in-memory counters are the
// source of truth; Prometheus export is additive").
func WithPrometheus(reg prometheus.Registerer, namespace string) Option {
	return func(h *Handle) {
		h.promTx = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handle_tx_total", Help: "Messages sent by type.",
		}, []string{"type"})
		h.promRx = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handle_rx_total", Help: "Messages received by type.",
		}, []string{"type"})
		if reg != nil {
			reg.MustRegister(h.promTx, h.promRx)
		}
	}
}

// defaultScheme is consulted when uri == "" and FLUX_URI is unset (spec.md
// §4.3 step 2's "built-in default").
const defaultScheme = "loop"

// Open resolves uri per spec.md §4.3's four-step order and constructs a
// Handle around the resulting connector. parent supplies ancestor
// resolution for instance-path uris ("." / "/" / ".." forms) — pass nil
// for a fresh top-level open.
func Open(uri string, flags Flag, parent *Handle, opts ...Option) (*Handle, error) {
	if flags&^openFlagMask != 0 {
		return nil, fmt.Errorf("%w: %d", ErrIllegalFlag, flags&^openFlagMask)
	}

	if uri != "" && (uri[0] == '.' || uri[0] == '/') {
		return openInstancePath(uri, flags, parent, opts...)
	}

	if uri == "" {
		if env := os.Getenv("FLUX_URI"); env != "" {
			uri = env
		} else {
			uri = defaultScheme + "://"
		}
	}

	scheme, path, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	// loop:// resolves to a self-loop connector (Send lands in this same
	// handle's Recv), since Open returns exactly one Handle per call and
	// the builtin registry factory's one-Connector-per-call signature
	// can't construct a two-sided pair (see connector/loop.go's
	// NewLoopPair doc comment for the two-handle variant, used directly
	// by tests instead of through Open).
	if scheme == "loop" {
		return newHandle(uri, flags, connector.NewSelfLoop(), nil, opts...)
	}

	conn, err := connector.Open(scheme, path, uint32(flags))
	if err != nil {
		return nil, err
	}
	return newHandle(uri, flags, conn, nil, opts...)
}

// Wrap constructs a Handle directly around an already-open connector,
// bypassing URI resolution entirely. Used by tests and by callers that
// obtained a Connector some other way (e.g. one half of a
// connector.NewLoopPair()).
func Wrap(conn connector.Connector, flags Flag, opts ...Option) (*Handle, error) {
	if flags&^openFlagMask != 0 {
		return nil, fmt.Errorf("%w: %d", ErrIllegalFlag, flags&^openFlagMask)
	}
	return newHandle("", flags, conn, nil, opts...)
}

// openInstancePath resolves "/" (root) and ".." (count of occurrences is
// ancestor depth) against parent, per spec.md §4.3 step 1.
func openInstancePath(uri string, flags Flag, parent *Handle, opts ...Option) (*Handle, error) {
	if uri == "/" {
		h := parent
		for h != nil && h.parent != nil {
			h = h.parent
		}
		if h == nil {
			return nil, ErrInvalid
		}
		return h.Clone(opts...)
	}

	depth := strings.Count(uri, "..")
	h := parent
	for i := 0; i < depth; i++ {
		if h == nil {
			return nil, ErrInvalid
		}
		h = h.parent
	}
	if h == nil {
		return nil, ErrInvalid
	}
	return h.Clone(opts...)
}

func splitURI(uri string) (scheme, path string, err error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "", "", fmt.Errorf("%w: malformed uri %q", ErrInvalid, uri)
	}
	return uri[:i], strings.TrimRight(uri[i+3:], " \t"), nil
}

func newHandle(uri string, flags Flag, conn connector.Connector, parent *Handle, opts ...Option) (*Handle, error) {
	h := &Handle{
		uri:      uri,
		flags:    flags,
		conn:     conn,
		parent:   parent,
		Dispatch: dispatch.New(),
		log:      flogging.Discard(),
	}

	if parent != nil {
		h.matchtags = parent.matchtags
	} else {
		h.matchtags = matchtag.New(flags&Matchdebug != 0)
	}

	if flags&RPCTrack != 0 {
		h.tracker = rpctrack.New()
	}
	if flags&NoRequeue == 0 {
		h.requeue = msgdeque.Create(msgdeque.SingleThread)
	}

	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Clone returns a new Handle sharing the connector and matchtag pool, but
// with its own dispatch table, aux, and requeue deque (spec.md §4.3
// "Cloning"). Clone increments h's usecount; Handle has no Close method,
// so nothing decrements it when a clone is discarded.
func (h *Handle) Clone(opts ...Option) (*Handle, error) {
	h.mu.Lock()
	h.usecount++
	h.mu.Unlock()

	c, err := newHandle(h.uri, h.flags|Clone, h.conn, h, opts...)
	if err != nil {
		h.mu.Lock()
		h.usecount--
		h.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// FlagsGet returns the handle's currently-set flags.
func (h *Handle) FlagsGet() Flag {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags
}

// runtimeMutableFlags is the subset flags_set/unset may change at runtime
// (spec.md "RPCTRACK is creation-time-only").
const runtimeMutableFlags = Trace | Nonblock | NoSub

// FlagsSet sets bits in f (runtime-mutable only).
func (h *Handle) FlagsSet(f Flag) error {
	if f&^runtimeMutableFlags != 0 {
		return ErrRPCTrackOnly
	}
	h.mu.Lock()
	h.flags |= f
	h.mu.Unlock()
	return nil
}

// FlagsUnset clears bits in f (runtime-mutable only).
func (h *Handle) FlagsUnset(f Flag) error {
	if f&^runtimeMutableFlags != 0 {
		return ErrRPCTrackOnly
	}
	h.mu.Lock()
	h.flags &^= f
	h.mu.Unlock()
	return nil
}

// MatchtagAlloc returns a fresh matchtag from this handle's (or its
// ancestor's, if cloned) pool.
func (h *Handle) MatchtagAlloc() uint32 { return h.matchtags.Alloc() }

// MatchtagFree releases tag, reporting a double or invalid free in
// MATCHDEBUG mode on standard error (and to the handle's logger) without
// treating it as fatal (spec.md §4.3 "Matchtags").
func (h *Handle) MatchtagFree(tag uint32) {
	if err := h.matchtags.Free(tag); err != nil {
		fmt.Fprintf(os.Stderr, "matchtag free failed: %v\n", err)
		h.log.Err().Err(err).Log("matchtag free failed")
	}
}

// OptGet delegates to the connector (spec.md §4.3 "Options"). If out is
// non-nil, the raw value is additionally decoded into it via mapstructure
// (SPEC_FULL.md §4.7's "structured option blobs").
func (h *Handle) OptGet(option string, out any) (any, error) {
	v, err := h.conn.GetOpt(option)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := mapstructure.Decode(v, out); err != nil {
			return nil, fmt.Errorf("handle: decoding option %q: %w", option, err)
		}
	}
	return v, nil
}

// OptSet delegates to the connector.
func (h *Handle) OptSet(option string, val any) error {
	return h.conn.SetOpt(option, val)
}

// AuxSet/AuxGet/AuxDestroy expose the handle's aux container (spec.md
// §4.8).
func (h *Handle) AuxSet(key string, val any, destroy aux.Destructor) error {
	return h.aux.Set(key, val, destroy)
}
func (h *Handle) AuxGet(key string) (any, error) { return h.aux.Get(key) }
func (h *Handle) AuxDestroy()                    { h.aux.Destroy() }

// PollFD and Sample make Handle satisfy socketwatcher.Sampler directly, so
// a Handle can drive a socketwatcher.Watcher the same way a bare connector
// does (spec.md §4.9's closing note: "the same pattern underlies the
// handle watcher"). See handle/watcher.go.
func (h *Handle) PollFD() int { return h.conn.PollFD() }

// uidFromEnv/rolemaskFromEnv implement spec.md §6's testing overrides.
func uidFromEnv() (uint32, bool) {
	v := os.Getenv("FLUX_HANDLE_USERID")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func rolemaskFromEnv() (uint32, bool) {
	v := os.Getenv("FLUX_HANDLE_ROLEMASK")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
