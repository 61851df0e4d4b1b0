// Package logfabric implements SPEC_FULL.md §4.13's RFC 5424-shaped
// syslog framing for the external log-ring consumer (spec.md §6): "the
// core commits only to delivering these messages in order with
// at-most-one-concurrent writer per handle."
//
// Grounded on original_source/src/common/libutil/stdlog.c's
// stdlog_encode/stdlog_decode pair: the same header grammar (<PRI>VER
// TIMESTAMP HOSTNAME APPNAME PROCID MSGID [SD] MSG), the same nilvalue
// convention ("-" for an absent field), and the same severity name
// table, reimplemented as string formatting/parsing rather than the
// original's fixed-size-buffer snprintf arithmetic.
package logfabric

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
)

// NilValue is RFC 5424's "field absent" placeholder, carried over from
// stdlog.h's STDLOG_NILVALUE.
const NilValue = "-"

// facilityLocal0 is fixed per SPEC_FULL.md §4.13 ("facility fixed at
// local0, matching flux-core's broker log facility"); RFC 5424 assigns
// local0 facility code 16.
const facilityLocal0 = 16

// ErrMalformed is returned by Decode for input that does not parse as an
// RFC 5424 header (mirrors stdlog_decode's -1/EINVAL return).
var ErrMalformed = errors.New("logfabric: malformed header")

// Header is stdlog_header's Go shape minus the raw backing buffer (Go's
// GC makes the original's fixed scratch buffer unnecessary).
type Header struct {
	Severity  int
	Facility  int
	Version   int
	Timestamp string
	Hostname  string
	AppName   string
	ProcID    string
	MsgID     string
}

// severityTable mirrors stdlog.c's static severity_tab, in severity
// order (0=emerg .. 7=debug).
var severityTable = [...]string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

// SeverityToString is stdlog_severity_to_string: the table entry for
// severity (indexed directly), NilValue if severity is out of range.
func SeverityToString(severity int) string {
	if severity < 0 || severity >= len(severityTable) {
		return NilValue
	}
	return severityTable[severity]
}

// StringToSeverity is stdlog_string_to_severity: case-insensitive lookup,
// -1 if not found.
func StringToSeverity(s string) int {
	for i, name := range severityTable {
		if strings.EqualFold(name, s) {
			return i
		}
	}
	return -1
}

// LevelToSeverity maps a logiface.Level onto an RFC 5424 severity
// (0-7): logiface's Level enum is already syslog-ordered
// (LevelEmergency=0 .. LevelDebug=7), with LevelTrace (8, not a syslog
// level) folded down to debug, the same "more verbose than debug, but
// nothing wire-visible distinguishes them" choice spec.md's own error
// taxonomy implies by only exposing POSIX-style severities.
func LevelToSeverity(l logiface.Level) int {
	switch {
	case l < logiface.LevelEmergency:
		return int(logiface.LevelEmergency)
	case l > logiface.LevelDebug:
		return int(logiface.LevelDebug)
	default:
		return int(l)
	}
}

// Encode renders one RFC 5424 record: "<PRI>VER TIMESTAMP HOSTNAME
// APPNAME PROCID MSGID SD MSG", matching stdlog_vencodef's field order
// and nilvalue substitution. hostname/appname/procid/msgid/sd that are
// "" are rendered as NilValue. timestamp is rendered in RFC3339Nano form,
// or as NilValue if it is zero (like stdlog.c, Encode leaves timestamping
// to the caller; Writer passes time.Now()). PRI is facility*8 + severity.
func Encode(severity int, hostname, appname, procid, msgid, sd, msg string, timestamp time.Time) string {
	pri := facilityLocal0<<3 | severity
	ts := NilValue
	if !timestamp.IsZero() {
		ts = timestamp.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("<%d>%d %s %s %s %s %s %s %s",
		pri, 1,
		ts,
		or(hostname, NilValue),
		or(appname, NilValue),
		or(procid, NilValue),
		or(msgid, NilValue),
		or(sd, NilValue),
		msg)
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Decode parses an Encode-produced record back into a Header plus the
// structured-data and message substrings, mirroring stdlog_decode's
// header/sd/msg three-way split. Unlike the C implementation (which
// bounds the header scan to STDLOG_MAX_HEADER and requires the caller
// to pre-split buf/len), Decode operates on the whole string and returns
// ErrMalformed for anything that doesn't parse.
func Decode(line string) (hdr Header, sd string, msg string, err error) {
	if len(line) == 0 || line[0] != '<' {
		return hdr, "", "", ErrMalformed
	}
	rest := line[1:]
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return hdr, "", "", ErrMalformed
	}
	pri, perr := strconv.Atoi(rest[:end])
	if perr != nil {
		return hdr, "", "", ErrMalformed
	}
	hdr.Severity = pri & 7
	hdr.Facility = pri >> 3
	rest = rest[end+1:]

	fields := []*string{&hdr.Timestamp, &hdr.Hostname, &hdr.AppName, &hdr.ProcID, &hdr.MsgID}
	var verStr string
	tok, rest, ok := nextToken(rest)
	if !ok {
		return hdr, "", "", ErrMalformed
	}
	verStr = tok
	hdr.Version, perr = strconv.Atoi(verStr)
	if perr != nil {
		return hdr, "", "", ErrMalformed
	}
	for _, f := range fields {
		tok, rest, ok = nextToken(rest)
		if !ok {
			return hdr, "", "", ErrMalformed
		}
		*f = tok
	}

	sd, rest, ok = nextStructuredData(rest)
	if !ok {
		return hdr, "", "", ErrMalformed
	}
	return hdr, sd, rest, nil
}

// nextToken splits off the next space-delimited token, mirroring
// stdlog.c's next_str.
func nextToken(s string) (tok string, rest string, ok bool) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+1:], true
}

// nextStructuredData scans a bracket-balanced SD token (or a bare
// NilValue "-"), mirroring stdlog.c's next_structured_data bracket-depth
// scan.
func nextStructuredData(s string) (sd string, rest string, ok bool) {
	level := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			level++
		case ']':
			level--
		case ' ':
			if level == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}
