package tower

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sevenDatabase/controltower/internal/cache"
	"github.com/sevenDatabase/controltower/internal/logrouter"
	"github.com/sevenDatabase/controltower/internal/logtailer"
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/wire"
)

// Room owns one TopicTailer and the single worker goroutine allowed to
// touch it. Every other goroutine — the client I/O layer delivering
// subscribe/unsubscribe requests, the Log Tailer delivering records and
// gaps, the Tick timer — reaches the tailer only by enqueuing a command
// here.
type Room struct {
	q      *queue
	tailer *TopicTailer

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// RoomConfig governs one Room.
type RoomConfig struct {
	Tower        Config
	QueueSize    int
	TickInterval time.Duration
}

// NewRoom constructs a Room and starts its worker goroutine. Call Close to
// stop it.
func NewRoom(cfg RoomConfig, router *logrouter.Router, tailer logtailer.Tailer, sink ClientSink, reg prometheus.Registerer) *Room {
	room := &Room{
		q:       newQueue(cfg.QueueSize),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	room.tailer = New(cfg.Tower, router, tailer, sink, reg, room.enqueue)

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	go room.run(interval)
	return room
}

// enqueue is the collaborator TopicTailer uses to hop an asynchronous
// callback (FindLatestSeqno's response, a flow-control resume) back onto
// the worker goroutine.
func (room *Room) enqueue(fn func()) {
	room.submit(task(fn))
}

// submit enqueues t, returning status.NoBuffer if the command queue is
// full rather than blocking the caller.
func (room *Room) submit(t task) status.Status {
	if !room.q.TryEnqueue(t) {
		return status.New(status.NoBuffer, "room command queue full")
	}
	select {
	case room.wake <- struct{}{}:
	default:
	}
	return status.OKStatus
}

func (room *Room) run(tickInterval time.Duration) {
	defer close(room.stopped)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-room.stop:
			room.q.RunAll()
			return
		case <-room.wake:
			room.q.RunAll()
		case <-ticker.C:
			room.tailer.Tick()
		}
	}
}

// Close stops the worker goroutine after draining whatever is already
// queued. Safe to call more than once.
func (room *Room) Close() {
	room.once.Do(func() { close(room.stop) })
	<-room.stopped
}

// AddSubscriber enqueues a new subscription. Returns NoBuffer if the
// command queue is full; the caller should retry.
func (room *Room) AddSubscriber(topic topicuuid.UUID, startSeqno topicuuid.SeqNo, sub topicuuid.CopilotSub, stream topicuuid.StreamID) status.Status {
	return room.submit(func() { room.tailer.AddSubscriber(topic, startSeqno, sub, stream) })
}

// RemoveSubscriber enqueues the teardown of one subscription.
func (room *Room) RemoveSubscriber(sub topicuuid.CopilotSub) status.Status {
	return room.submit(func() { room.tailer.RemoveSubscriber(sub) })
}

// RemoveStream enqueues the teardown of every subscription a disconnected
// client owned.
func (room *Room) RemoveStream(stream topicuuid.StreamID) status.Status {
	return room.submit(func() { room.tailer.RemoveStream(stream) })
}

// SendLogRecord enqueues one record read off a log by the Log Tailer.
func (room *Room) SendLogRecord(log topicuuid.LogID, seqno topicuuid.SeqNo, topic topicuuid.UUID, payload []byte, rdr reader.ID) status.Status {
	return room.submit(func() { room.tailer.SendLogRecord(log, seqno, topic, payload, rdr) })
}

// SendGapRecord enqueues one gap reported by the Log Tailer.
func (room *Room) SendGapRecord(log topicuuid.LogID, gapType wire.GapType, from, to topicuuid.SeqNo, rdr reader.ID) status.Status {
	return room.submit(func() { room.tailer.SendGapRecord(log, gapType, from, to, rdr) })
}

// SetCacheMirror attaches an optional out-of-process mirror of sealed
// cache block metadata. Pass nil to disable.
func (room *Room) SetCacheMirror(m *cache.Mirror) {
	room.tailer.cache.SetMirror(m)
}

// NotifySinkReady enqueues delivery of a flow-control resume for sink,
// replaying whatever was parked on it. The client I/O layer calls this
// once it has drained its own outgoing buffer.
func (room *Room) NotifySinkReady() status.Status {
	return room.submit(func() { room.tailer.flow.Unblock(clientSinkAdapter{room.tailer.sink}) })
}
