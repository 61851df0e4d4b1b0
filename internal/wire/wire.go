// Package wire implements the protobuf envelope SPEC_FULL.md §4.6 assigns
// to the local and grpc connectors: a flat WireMessage carrying every
// field msg.Message needs to cross a real network connection.
//
// Grounded on inprocgrpc's channel framing (inprocgrpc/channel.go moves
// *and copies* messages across a gRPC-shaped boundary; this package is the
// on-the-wire counterpart for the two connectors that aren't in-process)
// and on google.golang.org/protobuf/encoding/protowire directly, rather
// than a .proto-generated type: protoc is part of the Go toolchain's build
// step and this module's process never invokes any toolchain command, so
// there is no generated WireMessage available to import. protowire is the
// same module (google.golang.org/protobuf) the rest of this module already
// depends on for gRPC; encoding by hand against its wire-format primitives
// keeps the real dependency (not a hand-rolled substitute codec) without
// requiring code generation.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/resourcefab/msgfabric/msg"
)

// Field numbers, fixed for wire compatibility.
const (
	fieldType     = protowire.Number(1)
	fieldTopic    = protowire.Number(2)
	fieldMatchtag = protowire.Number(3)
	fieldHasTag   = protowire.Number(4)
	fieldRoute    = protowire.Number(5)
	fieldUID      = protowire.Number(6)
	fieldRolemask = protowire.Number(7)
	fieldFlags    = protowire.Number(8)
	fieldPayload  = protowire.Number(9)
	fieldCtrlType = protowire.Number(10)
	fieldCtrlStat = protowire.Number(11)
)

// ErrMalformed is returned by Decode on any truncated or invalid frame
// (spec.md §7 "Protocol" kind: EPROTO).
var ErrMalformed = errors.New("wire: malformed frame")

// Encode serializes m into a protobuf-wire-format byte slice.
func Encode(m *msg.Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type()))

	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendString(b, m.Topic())

	if tag, ok := m.Matchtag(); ok {
		b = protowire.AppendTag(b, fieldMatchtag, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(tag))
		b = protowire.AppendTag(b, fieldHasTag, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	route := m.Route()
	if route.Enabled || len(route.Hops) > 0 {
		for _, hop := range route.Hops {
			b = protowire.AppendTag(b, fieldRoute, protowire.BytesType)
			b = protowire.AppendString(b, hop)
		}
	}

	creds := m.Credentials()
	b = protowire.AppendTag(b, fieldUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(creds.UID))
	b = protowire.AppendTag(b, fieldRolemask, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(creds.Rolemask))

	b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Flags()))

	if payload := m.Payload(); payload != nil {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}

	if m.Type() == msg.Control {
		ctrlType, ctrlStatus := m.Control()
		b = protowire.AppendTag(b, fieldCtrlType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(ctrlType)))
		b = protowire.AppendTag(b, fieldCtrlStat, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(ctrlStatus)))
	}

	return b
}

// Decode parses b (as produced by Encode) back into a *msg.Message.
func Decode(b []byte) (*msg.Message, error) {
	var (
		typ        = msg.Request
		topic      string
		matchtag   uint32
		hasTag     bool
		hops       []string
		uid        uint32
		rolemask   uint32
		flags      msg.Flags
		payload    []byte
		ctrlType   int
		ctrlStatus int
		routeSeen  bool
	)

	for len(b) > 0 {
		num, typFmt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			typ = msg.Type(v)
			b = b[m:]
		case fieldTopic:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			topic = v
			b = b[m:]
		case fieldMatchtag:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			matchtag = uint32(v)
			b = b[m:]
		case fieldHasTag:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			hasTag = v != 0
			b = b[m:]
		case fieldRoute:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			hops = append(hops, v)
			routeSeen = true
			b = b[m:]
		case fieldUID:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			uid = uint32(v)
			b = b[m:]
		case fieldRolemask:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			rolemask = uint32(v)
			b = b[m:]
		case fieldFlags:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			flags = msg.Flags(v)
			b = b[m:]
		case fieldPayload:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			payload = append([]byte(nil), v...)
			b = b[m:]
		case fieldCtrlType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			ctrlType = int(int64(v))
			b = b[m:]
		case fieldCtrlStat:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrMalformed
			}
			ctrlStatus = int(int64(v))
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typFmt, b)
			if m < 0 {
				return nil, ErrMalformed
			}
			b = b[m:]
		}
	}

	var out *msg.Message
	if typ == msg.Control {
		out = msg.NewControl(ctrlType, ctrlStatus)
	} else {
		out = msg.New(typ, topic, payload)
	}
	if hasTag {
		out.SetMatchtag(matchtag)
	}
	if routeSeen {
		out.SetRoute(msg.Route{Hops: hops, Enabled: true})
	}
	out.SetCredentials(msg.Credentials{UID: uid, Rolemask: rolemask})
	out.SetFlags(flags)
	return out, nil
}
