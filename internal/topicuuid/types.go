// Package topicuuid defines the identifiers shared by every layer of the
// Topic Tailer: the (namespace, name) pair that names a subscribable
// stream, the log a topic is routed to, and the monotonic position within
// that log.
package topicuuid

import "strings"

// UUID is a (namespace_id, topic_name) pair. It is a value type: hashable,
// comparable, and totally ordered by its byte representation so it can key
// maps and sort deterministically in tests.
type UUID struct {
	Namespace uint16
	Name      string
}

// New returns the UUID for (namespace, name).
func New(namespace uint16, name string) UUID {
	return UUID{Namespace: namespace, Name: name}
}

// String renders a UUID for logging.
func (u UUID) String() string {
	var b strings.Builder
	b.WriteString(itoa(u.Namespace))
	b.WriteByte(':')
	b.WriteString(u.Name)
	return b.String()
}

// Less gives the total order over UUIDs used by deterministic test
// fixtures: namespace first, then name.
func (u UUID) Less(other UUID) bool {
	if u.Namespace != other.Namespace {
		return u.Namespace < other.Namespace
	}
	return u.Name < other.Name
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// LogID is an opaque 64-bit identifier assigned by the LogRouter from a
// UUID. Many topics hash onto one LogID.
type LogID uint64

// SeqNo is a monotonically increasing 64-bit per-log record index assigned
// by the log store. Zero is reserved: it means "subscribe at tail."
type SeqNo uint64

// Tail is the reserved seqno meaning "subscribe from the next record to be
// written."
const Tail SeqNo = 0

// CopilotSub is an opaque handle identifying one subscription at the
// upstream Copilot. It is never interpreted by the Topic Tailer beyond
// equality and is the sole addressing key for delivered messages.
type CopilotSub uint64

// StreamID identifies a single Copilot connection; RemoveSubscriber(stream)
// drops every subscription that stream owns.
type StreamID uint64
