// Package plugin implements spec.md §3 Plugin + §4.8-adjacent "method
// override" note, and the "welcome" request supplement of SPEC_FULL.md
// §3 item 5: a DSO with a typed config blob, topic-glob handlers, a
// UUID, and per-plugin aux storage.
//
// Grounded on connector.go's DSO loading (stdlib plugin.Open/Lookup,
// the only way Go does dlopen-style loading — no ecosystem replacement
// exists, so this is a deliberate stdlib usage, not a dropped
// dependency) and on dispatch.Dispatcher, reused as-is for the
// handler table: spec.md's plugin handler semantics ("adding a handler
// with an existing topic string replaces in place") are word-for-word
// dispatch's own exact-topic method-override rule, so plugin does not
// reimplement matching, it wires dispatch.Dispatcher into a new role.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	goplugin "plugin"

	"github.com/mitchellh/mapstructure"

	"github.com/resourcefab/msgfabric/aux"
	"github.com/resourcefab/msgfabric/dispatch"
	"github.com/resourcefab/msgfabric/internal/flogging"
	"github.com/resourcefab/msgfabric/msg"
)

// ErrInvalid mirrors spec.md's EINVAL for malformed plugin arguments.
var ErrInvalid = errors.New("plugin: invalid argument")

// InitSymbol is the exported symbol every plugin DSO must provide,
// mirroring connector.ConnectorInitSymbol's convention: a zero-argument
// constructor the loader calls after Open succeeds.
//
//	func PluginInit() (plugin.Module, error)
const InitSymbol = "PluginInit"

// Module is what a loaded DSO hands back: the loader wires it into a
// *Plugin's handler table via Register.
type Module interface {
	// Name identifies the plugin (spec.md's Plugin.name).
	Name() string
	// Register installs the module's topic-glob handlers on p, typically
	// via repeated calls to p.Handle.
	Register(p *Plugin) error
}

// Flag is the plugin open-flags bitset (spec.md §3 Plugin "open-flags
// bitset"); deliberately a distinct type from handle.Flag since a
// plugin's flags (e.g. deep-bind) are not handle runtime flags.
type Flag uint32

const (
	// DeepBind mirrors FLUX_LOAD_WITH_DEEPBIND (spec.md §6), default on;
	// Go's plugin.Open has no equivalent knob (dlopen semantics are fixed
	// by the runtime), so this flag is carried for API parity and
	// recorded on the Plugin but otherwise inert — documented rather than
	// silently dropped.
	DeepBind Flag = 1 << iota
)

// Plugin is spec.md §3's Plugin record.
type Plugin struct {
	Path   string
	Name   string
	UUID   string
	Flags  Flag

	config map[string]any

	dso *goplugin.Plugin

	Handlers *dispatch.Dispatcher
	Aux      aux.Container

	log *flogging.Logger
}

// Load opens path as a Go plugin DSO, looks up InitSymbol, and calls it
// to obtain a Module, which then registers its handlers on the returned
// Plugin. config is the JSON-like configuration tree (spec.md §3
// "configuration (JSON-like tree)"); use DecodeConfig to project it onto
// a typed struct.
func Load(path string, flags Flag, config map[string]any, log *flogging.Logger) (*Plugin, error) {
	if path == "" {
		return nil, ErrInvalid
	}
	log = flogging.OrDiscard(log)

	dso, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: opening %s: %w", path, err)
	}
	sym, err := dso.Lookup(InitSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s missing %s: %w", path, InitSymbol, err)
	}
	init, ok := sym.(func() (Module, error))
	if !ok {
		return nil, fmt.Errorf("plugin: %s's %s has the wrong signature", path, InitSymbol)
	}
	mod, err := init()
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: init: %w", path, err)
	}

	p := &Plugin{
		Path:     path,
		Name:     mod.Name(),
		UUID:     msg.NewUUID(),
		Flags:    flags,
		config:   config,
		dso:      dso,
		Handlers: dispatch.New(),
		log:      log,
	}
	if err := mod.Register(p); err != nil {
		return nil, fmt.Errorf("plugin: %s: register: %w", path, err)
	}
	log.Info().Log("plugin loaded: " + p.Name)
	return p, nil
}

// DecodeConfig projects the plugin's JSON-like config tree onto out (a
// pointer to a struct), via mapstructure — grounded on
// gcsfuse/cfg.DecodeHook's compose-of-hooks pattern, narrowed to the
// default hook set (StringToTimeDurationHookFunc,
// StringToSliceHookFunc), since this module has no gcsfuse-specific
// scalar types (Octal, LogSeverity, ...) needing custom hooks.
func (p *Plugin) DecodeConfig(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(p.config)
}

// Handle registers glob as a topic-glob handler for typ, replacing any
// existing handler for the same exact topic in place (spec.md §4.8's
// method-override note), via dispatch.Dispatcher.Register+Start.
func (p *Plugin) Handle(typ msg.Type, glob string, h dispatch.HandlerFunc) (dispatch.HandlerID, error) {
	id, err := p.Handlers.Register(dispatch.Match{Type: typ, Topic: glob}, h)
	if err != nil {
		return 0, err
	}
	p.Handlers.Start(id)
	return id, nil
}

// Unhandle removes a previously-registered handler, restoring whatever
// binding it overrode (spec.md §4.8: "removal of the override restores
// the previous binding" — true automatically here, since dispatch keeps
// the full override stack per exact topic, not just the top entry).
func (p *Plugin) Unhandle(id dispatch.HandlerID) {
	p.Handlers.Destroy(id)
}

// Dispatch routes an incoming message to the plugin's handler table,
// returning whether some handler consumed it.
func (p *Plugin) Dispatch(m *msg.Message) bool {
	return p.Handlers.Dispatch(m)
}

// Close releases the plugin's aux entries. DSOs loaded via Go's plugin
// package are never unloaded (the runtime provides no dlclose
// equivalent); Close only tears down what this module owns.
func (p *Plugin) Close() {
	p.Aux.Destroy()
}

// WelcomeRequest is SPEC_FULL.md §3 item 5's supplement of
// src/broker/module.c's welcome request: attributes plus the
// destination module's config, routed verbatim by the core (the core
// never interprets Attrs or Config itself; see SPEC_FULL.md §4.12).
type WelcomeRequest struct {
	Attrs  map[string]string
	Config map[string]any
}

// welcomeTopic is the fixed topic name spec.md §6 names ("passes a
// 'welcome' request carrying attributes + config").
const welcomeTopic = "welcome"

// NewWelcomeRequest builds the Request message a module loader sends to
// a freshly-spawned module/subprocess handle. The payload is JSON
// (rather than internal/wire's binary envelope) since a welcome request
// is a human-diagnosable attribute/config handshake, not a routed
// message-fabric frame — the same JSON-for-config, binary-for-wire split
// spec.md itself draws between plugin configuration and message
// payloads.
func NewWelcomeRequest(w WelcomeRequest) (*msg.Message, error) {
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("plugin: encoding welcome request: %w", err)
	}
	return msg.New(msg.Request, welcomeTopic, payload), nil
}

// DecodeWelcomeRequest parses m's payload back into a WelcomeRequest; m
// must be a Request with topic "welcome".
func DecodeWelcomeRequest(m *msg.Message) (WelcomeRequest, error) {
	var w WelcomeRequest
	if m.Type() != msg.Request || m.Topic() != welcomeTopic {
		return w, fmt.Errorf("plugin: %w: not a welcome request", ErrInvalid)
	}
	if err := json.Unmarshal(m.Payload(), &w); err != nil {
		return w, fmt.Errorf("plugin: decoding welcome request: %w", err)
	}
	return w, nil
}
