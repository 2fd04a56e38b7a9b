// Package reader implements the per-reader state machine: which logs a
// reader has open, per-topic last-seen seqno, tail estimate, and
// lagging-subscription tracking.
package reader

import (
	"log/slog"
	"sync/atomic"

	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/toporder"
)

// TopicState is the per (log, topic) bookkeeping a reader tracks.
type TopicState struct {
	NextSeqno     topicuuid.SeqNo
	NumSubscribers int
}

// LogState is the per-log-id bookkeeping a reader owns.
type LogState struct {
	StartSeqno     topicuuid.SeqNo
	LastRead       topicuuid.SeqNo
	TailSeqno      topicuuid.SeqNo
	Topics         *toporder.Map // TopicUUID -> *TopicState, LRU by recency
	NumSubscribers int
}

func newLogState(start topicuuid.SeqNo) *LogState {
	return &LogState{
		StartSeqno: start,
		LastRead:   start - 1,
		Topics:     toporder.New(),
	}
}

// ID is a reader identity handed to the Log Tailer.
type ID int

// Reader owns LogState for every log it has open and a lag threshold.
// All methods are single-threaded: callers are expected to run within the
// owning room's worker goroutine. Nothing in this package enforces that;
// it relies on tower.Room being the only caller.
type Reader struct {
	ID                 ID
	MaxSubscriptionLag uint64

	logs map[topicuuid.LogID]*LogState
}

// New returns a Reader identified by id with the given lag threshold.
func New(id ID, maxSubscriptionLag uint64) *Reader {
	return &Reader{
		ID:                 id,
		MaxSubscriptionLag: maxSubscriptionLag,
		logs:               make(map[topicuuid.LogID]*LogState),
	}
}

// Logs exposes read-only access to currently open logs, for the pool/
// tower layer's reader-assignment and merge policies.
func (r *Reader) Logs() map[topicuuid.LogID]*LogState { return r.logs }

// LogState returns the state for log, or nil if not open.
func (r *Reader) LogState(log topicuuid.LogID) *LogState { return r.logs[log] }

// IsReading reports whether the reader has log open at all.
func (r *Reader) IsReading(log topicuuid.LogID) bool { return r.logs[log] != nil }

// StartReadingFn is implemented by the Log Tailer collaborator.
type StartReadingFn func(log topicuuid.LogID, seqno topicuuid.SeqNo, reader ID, firstOpen bool) status.Status

// StopReadingFn is implemented by the Log Tailer collaborator.
type StopReadingFn func(log topicuuid.LogID, reader ID) status.Status

// StartReading opens log at seqno if not already open; reseeks backward if
// seqno requires rewinding past what has already been read; flushes topic
// history if the rewind crosses the log's recorded start_seqno.
func (r *Reader) StartReading(topic topicuuid.UUID, log topicuuid.LogID, seqno topicuuid.SeqNo, startLog StartReadingFn) status.Status {
	ls, exists := r.logs[log]
	if !exists {
		ls = newLogState(seqno)
		r.logs[log] = ls
		if st := startLog(log, seqno, r.ID, true); !st.Ok() {
			delete(r.logs, log)
			return st
		}
	} else if seqno < ls.LastRead+1 {
		// Reseek backward.
		ls.LastRead = seqno - 1
		if seqno < ls.StartSeqno {
			r.FlushHistory(log, seqno)
		} else {
			ls.StartSeqno = seqno
		}
		if st := startLog(log, seqno, r.ID, false); !st.Ok() {
			return st
		}
	}
	// else: seqno >= last_read+1 and log already open — no-op, the reader
	// will naturally deliver forward from where it already is.

	ls.NumSubscribers++
	if ts, ok := ls.Topics.Get(topic); !ok {
		ls.Topics.Put(topic, &TopicState{NextSeqno: seqno, NumSubscribers: 1})
	} else {
		ts.(*TopicState).NumSubscribers++
	}
	return status.OKStatus
}

// StopReading decrements refcounts; closes the log entirely (dropping
// tail_seqno) when the last subscriber leaves.
func (r *Reader) StopReading(topic topicuuid.UUID, log topicuuid.LogID, stopLog StopReadingFn) status.Status {
	ls := r.logs[log]
	if ls == nil {
		return status.New(status.InternalError, "StopReading on a closed log")
	}
	if v, ok := ls.Topics.Get(topic); ok {
		state := v.(*TopicState)
		state.NumSubscribers--
		if state.NumSubscribers <= 0 {
			ls.Topics.Delete(topic)
		}
	}
	ls.NumSubscribers--
	if ls.NumSubscribers <= 0 {
		delete(r.logs, log)
		return stopLog(log, r.ID)
	}
	return status.OKStatus
}

// ProcessRecord advances last_read and the topic's next_seqno, returning
// the previous next_seqno (0 if this reader knew nothing about the topic)
// and whether this record is at the tail estimate.
func (r *Reader) ProcessRecord(log topicuuid.LogID, seqno topicuuid.SeqNo, topic topicuuid.UUID) (prevSeqno topicuuid.SeqNo, isTail bool, st status.Status) {
	ls := r.logs[log]
	if ls == nil {
		return 0, false, status.New(status.NotFound, "record for log not being read")
	}
	if seqno != ls.LastRead+1 {
		slog.Warn("dropping out-of-order record", slog.Uint64("log_id", uint64(log)), slog.Uint64("seqno", uint64(seqno)), slog.Uint64("expected", uint64(ls.LastRead+1)))
		return 0, false, status.New(status.NotFound, "seqno out of order")
	}
	ls.LastRead = seqno

	if ls.TailSeqno > 0 && ls.TailSeqno <= seqno {
		isTail = true
		ls.TailSeqno = seqno + 1
	}

	if v, ok := ls.Topics.Get(topic); ok {
		state := v.(*TopicState)
		prevSeqno = state.NextSeqno
		state.NextSeqno = seqno + 1
		ls.Topics.MoveToBack(topic)
	} else {
		prevSeqno = 0
	}
	return prevSeqno, isTail, status.OKStatus
}

// ValidateGap ensures a gap about to be processed starts exactly where the
// reader left off.
func (r *Reader) ValidateGap(log topicuuid.LogID, from topicuuid.SeqNo) status.Status {
	ls := r.logs[log]
	if ls == nil {
		return status.New(status.NotFound, "gap for log not being read")
	}
	if from != ls.LastRead+1 {
		return status.New(status.NotFound, "gap out of order")
	}
	return status.OKStatus
}

// ProcessGap is the gap-delivery analogue of ProcessRecord: it checks from
// against last_read like ValidateGap, advances last_read to to, advances
// next_seqno to to+1 for the topic and returns the previous value. Since
// it moves the log position, one gap is processed by one call.
func (r *Reader) ProcessGap(log topicuuid.LogID, topic topicuuid.UUID, from, to topicuuid.SeqNo) (prevSeqno topicuuid.SeqNo, st status.Status) {
	if st := r.ValidateGap(log, from); !st.Ok() {
		return 0, st
	}
	ls := r.logs[log]
	ls.LastRead = to

	if v, ok := ls.Topics.Get(topic); ok {
		state := v.(*TopicState)
		prevSeqno = state.NextSeqno
		state.NextSeqno = to + 1
		ls.Topics.MoveToBack(topic)
	}
	return prevSeqno, status.OKStatus
}

// ProcessBenignGap advances last_read without touching any topic's state —
// used for benign gaps reported by the Log Tailer.
func (r *Reader) ProcessBenignGap(log topicuuid.LogID, from, to topicuuid.SeqNo) status.Status {
	if st := r.ValidateGap(log, from); !st.Ok() {
		return st
	}
	r.logs[log].LastRead = to
	return status.OKStatus
}

// FlushHistory resets a log's start/last_read to seqno and clears all
// per-topic history — the reader can no longer honor promises made below
// the new position.
func (r *Reader) FlushHistory(log topicuuid.LogID, seqno topicuuid.SeqNo) {
	ls := r.logs[log]
	if ls == nil {
		return
	}
	ls.StartSeqno = seqno
	ls.LastRead = seqno - 1
	ls.Topics.Clear()
}

// SuggestTailSeqno raises tail_seqno monotonically; called after a
// FindLatestSeqno response.
func (r *Reader) SuggestTailSeqno(log topicuuid.LogID, seqno topicuuid.SeqNo) {
	ls := r.logs[log]
	if ls == nil {
		return
	}
	floor := ls.LastRead + 1
	if floor > seqno {
		seqno = floor
	}
	if seqno > ls.TailSeqno {
		ls.TailSeqno = seqno
	}
}

// BumpEvent describes one lagging subscription forcibly advanced.
type BumpEvent struct {
	Topic     topicuuid.UUID
	OldNext   topicuuid.SeqNo
}

// BumpLaggingSubscriptions advances every topic at the front of the LRU
// list whose next_seqno trails current_seqno by more than the configured
// lag threshold, invoking onBump for each and stopping at the first
// non-lagging topic.
func (r *Reader) BumpLaggingSubscriptions(log topicuuid.LogID, currentSeqno topicuuid.SeqNo, onBump func(BumpEvent)) {
	ls := r.logs[log]
	if ls == nil {
		return
	}
	for {
		topic, v, ok := ls.Topics.Front()
		if !ok {
			return
		}
		state := v.(*TopicState)
		if uint64(state.NextSeqno)+r.MaxSubscriptionLag >= uint64(currentSeqno) {
			return
		}
		old := state.NextSeqno
		state.NextSeqno = currentSeqno + 1
		ls.Topics.MoveToBack(topic)
		if onBump != nil {
			onBump(BumpEvent{Topic: topic, OldNext: old})
		}
	}
}

// nextReaderSeq hands out process-unique reader ids; tower.New draws the
// id of every reader in its pool from it.
var nextReaderSeq atomic.Int64

// NextID returns a fresh, process-unique reader id.
func NextID() ID { return ID(nextReaderSeq.Add(1)) }
