// Package connector implements spec.md §4.4's connector operations table
// and builtin scheme registry (loop, interthread, local), plus the
// DSO-loading fallback of spec.md §4.3's open() resolution order.
//
// Grounded on inprocgrpc/channel.go's Channel: a connector is, at root, the
// same "deliver a message to whoever's on the other end, in-process or
// not" abstraction inprocgrpc implements for gRPC streams; the loop and
// interthread builtins below reuse msgdeque the same way inprocgrpc reuses
// Go channels for in-process delivery.
package connector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/resourcefab/msgfabric/msg"
)

// Events mirrors spec.md §4.4's pollevents bitset.
type Events uint32

const (
	In Events = 1 << iota
	Out
	Err
)

// Errors matching spec.md §7's taxonomy for this layer.
var (
	ErrInvalid    = errors.New("connector: invalid argument")
	ErrNotSupport = errors.New("connector: operation not implemented") // ENOSYS
	ErrNotFound   = errors.New("connector: unknown scheme")
)

// Connector is the operations table every transport implements (spec.md
// §4.4).
type Connector interface {
	SetOpt(option string, val any) error
	GetOpt(option string) (any, error)
	PollFD() int
	PollEvents() Events
	Send(m *msg.Message, nonblock bool) error
	Recv(nonblock bool) (*msg.Message, error)
	Reconnect() error
	Destroy() error
}

// Sender of owning-transfer sends (spec.md "send_new... may take a faster
// path when the connector exposes send_new and no RPC tracker is
// attached"). Implemented optionally; callers type-assert.
type SendNewer interface {
	SendNew(m *msg.Message, nonblock bool) error
}

// Factory constructs a Connector bound to path, given the open flags the
// handle layer parsed (spec.md §4.3 "Accepted flags").
type Factory func(path string, flags uint32) (Connector, error)

// NoSub mirrors handle.Flag's NOSUB bit position in the flags uint32 every
// Factory receives (spec.md §4.3 "NOSUB: test-only suppression of
// subscribe"). Defined here rather than imported from handle to avoid an
// import cycle (handle imports connector, not the reverse); the bit
// position must stay in lockstep with handle.NoSub.
const NoSub uint32 = 1 << 4

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs scheme in the builtin connector table (spec.md's
// "look up scheme in the builtin connector table"). Called by each
// builtin's init, and by connector/ws, connector/mqtt, connector/grpc.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = f
}

// DSOSearchPath mirrors FLUX_CONNECTOR_PATH (spec.md §6): directories
// searched, in order, for a "<scheme>.so" plugin exposing a ConnectorInit
// symbol, when scheme isn't in the builtin table.
var DSOSearchPath []string

// ConnectorInitSymbol is the exported symbol name a DSO connector plugin
// must provide: func(path string, flags uint32) (Connector, error).
const ConnectorInitSymbol = "ConnectorInit"

// Open resolves scheme against the builtin table, then the DSO search
// path, and invokes the resulting factory with path and flags (spec.md
// §4.3 steps 3-4).
func Open(scheme, path string, flags uint32) (Connector, error) {
	registryMu.RLock()
	f, ok := registry[scheme]
	registryMu.RUnlock()
	if ok {
		return f(path, flags)
	}

	init, err := loadDSO(scheme)
	if err != nil {
		return nil, err
	}
	return init(path, flags)
}

func loadDSO(scheme string) (Factory, error) {
	for _, dir := range DSOSearchPath {
		candidate := filepath.Join(dir, scheme+".so")
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		p, err := plugin.Open(candidate)
		if err != nil {
			return nil, fmt.Errorf("connector: opening %s: %w", candidate, err)
		}
		sym, err := p.Lookup(ConnectorInitSymbol)
		if err != nil {
			return nil, fmt.Errorf("connector: %s missing %s: %w", candidate, ConnectorInitSymbol, err)
		}
		init, ok := sym.(func(string, uint32) (Connector, error))
		if !ok {
			return nil, fmt.Errorf("connector: %s's %s has the wrong signature", candidate, ConnectorInitSymbol)
		}
		return init, nil
	}
	return nil, fmt.Errorf("%w: %s (checked %s)", ErrNotFound, scheme, strings.Join(DSOSearchPath, ":"))
}
