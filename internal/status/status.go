// Package status defines a small error-code type threaded through every
// Topic Tailer operation: callers branch on a code, not on error string
// matching.
package status

// Code is the Topic Tailer error taxonomy.
type Code int

const (
	// OK means the operation completed (or was durably enqueued).
	OK Code = iota
	// NotFound: a record/gap arrived out of sequence, or for a log/topic
	// the reader isn't tracking. Recovered locally; never surfaced.
	NotFound
	// NoBuffer: a command queue or downstream sink is full. Surfaced to
	// the caller, who is expected to retry.
	NoBuffer
	// InvalidArgument: a malformed message. Surfaced to the wire layer,
	// which closes the stream.
	InvalidArgument
	// InternalError: an invariant was violated. A bug, not a runtime
	// condition; fatal in debug builds.
	InternalError
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case NoBuffer:
		return "NoBuffer"
	case InvalidArgument:
		return "InvalidArgument"
	case InternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Status pairs a Code with an optional human-readable message.
type Status struct {
	Code Code
	Msg  string
}

// OKStatus is the canonical success value.
var OKStatus = Status{Code: OK}

// New builds a non-OK status.
func New(c Code, msg string) Status { return Status{Code: c, Msg: msg} }

// Ok reports whether the status is success.
func (s Status) Ok() bool { return s.Code == OK }

func (s Status) Error() string {
	if s.Msg == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Msg
}
