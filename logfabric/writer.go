package logfabric

import (
	"sync"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/resourcefab/msgfabric/handle"
	"github.com/resourcefab/msgfabric/msg"
)

// Writer routes RFC 5424 log records onto a handle's send path, one
// Request message per record. It owns the "at-most-one-concurrent
// writer per handle" guarantee spec.md §6 requires of the log-ring
// consumer contract: a sync.Mutex serializes Write the same way a real
// syslog ring buffer serializes appends from concurrent callers, since
// handle.Send itself makes no such promise (a handle may be shared by
// multiple goroutines feeding logs concurrently without this wrapper).
type Writer struct {
	mu sync.Mutex

	h        *handle.Handle
	topic    string
	hostname string
	appname  string
	procid   string
}

// NewWriter attaches a Writer to h, sending every record as a Request on
// topic (spec.md §6: "the broker module consumes append/dmesg/clear/
// cancel/stats-get request topics").
func NewWriter(h *handle.Handle, topic, hostname, appname, procid string) *Writer {
	return &Writer{h: h, topic: topic, hostname: hostname, appname: appname, procid: procid}
}

// Write encodes one record at level and sends it, holding the mutex for
// the full encode+send so two goroutines logging through the same
// Writer can never interleave their frames on the wire.
func (w *Writer) Write(level logiface.Level, msgid, structuredData, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := Encode(LevelToSeverity(level), w.hostname, w.appname, w.procid, msgid, structuredData, message, time.Now())
	m := msg.New(msg.Request, w.topic, []byte(line))
	m.SetFlags(msg.NoResponse)
	return w.h.Send(m)
}
