// Package logtailer defines the Log Tailer contract the Topic Tailer
// consumes, plus a file-backed reference implementation. The log store
// itself is out of scope for this module; this package exists so the
// Topic Tailer can be exercised end-to-end without a real log-store
// cluster, not to be a production log store.
package logtailer

import (
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/wire"
)

// Tailer is the collaborator the Topic Tailer drives to open, close, and
// seek log subscriptions.
type Tailer interface {
	// StartReading opens log at seqno for reader. firstOpen is true the
	// first time this reader opens this log (as opposed to a rewind on an
	// already-open log).
	StartReading(log topicuuid.LogID, seqno topicuuid.SeqNo, rdr reader.ID, firstOpen bool) status.Status
	// StopReading closes log for reader. Called once the Topic Tailer's
	// last subscriber on (log, reader) has gone away.
	StopReading(log topicuuid.LogID, rdr reader.ID) status.Status
	// FindLatestSeqno answers asynchronously with the tail of log: the
	// seqno the next appended record will receive. callback may be
	// invoked on any goroutine.
	FindLatestSeqno(log topicuuid.LogID, callback func(status.Status, topicuuid.SeqNo))
	// CanSubscribePastEnd reports whether StartReading(log, tail, ...)
	// is valid on this store, or whether callers must subscribe at tail-1
	// instead.
	CanSubscribePastEnd() bool
}

// Sink receives records and gaps read off a log. The Topic Tailer
// implements this to route delivery into LogReader.ProcessRecord/
// ProcessGap.
type Sink interface {
	SendLogRecord(log topicuuid.LogID, seqno topicuuid.SeqNo, topic topicuuid.UUID, payload []byte, rdr reader.ID)
	SendGapRecord(log topicuuid.LogID, gapType wire.GapType, from, to topicuuid.SeqNo, rdr reader.ID)
}
