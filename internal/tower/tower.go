// Package tower implements the Topic Tailer: the coordinator that maps
// topics onto log readers, drives the data cache, and fans delivered
// records and gaps out to subscribers. Everything in this package runs
// on exactly one worker goroutine (the Room); see room.go for the
// thread-safe entry points other goroutines actually call.
package tower

import (
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sevenDatabase/controltower/internal/cache"
	"github.com/sevenDatabase/controltower/internal/config"
	"github.com/sevenDatabase/controltower/internal/flowcontrol"
	"github.com/sevenDatabase/controltower/internal/logging"
	"github.com/sevenDatabase/controltower/internal/logrouter"
	"github.com/sevenDatabase/controltower/internal/logtailer"
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicmgr"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/wire"
)

// Config governs one TopicTailer instance.
type Config struct {
	MaxSubscriptionLag       uint64
	ReadersPerRoom           int
	MaxFindSeqnoRequests     int
	BackpressureWarnAfter    time.Duration
	MinReaderRestartDuration time.Duration
	MaxReaderRestartDuration time.Duration
	Cache                    cache.Config
}

func (c Config) withDefaults() Config {
	if c.ReadersPerRoom <= 0 {
		c.ReadersPerRoom = 2
	}
	if c.MaxSubscriptionLag <= 0 {
		c.MaxSubscriptionLag = 10000
	}
	if c.MaxFindSeqnoRequests <= 0 {
		c.MaxFindSeqnoRequests = 100
	}
	if c.MinReaderRestartDuration <= 0 {
		c.MinReaderRestartDuration = 30 * time.Second
	}
	if c.MaxReaderRestartDuration < c.MinReaderRestartDuration {
		c.MaxReaderRestartDuration = 2 * c.MinReaderRestartDuration
	}
	return c
}

// pendingTail is a subscription waiting on an async FindLatestSeqno
// response.
type pendingTail struct {
	sub    topicuuid.CopilotSub
	stream topicuuid.StreamID
	topic  topicuuid.UUID
	log    topicuuid.LogID
	live   *bool // set false by RemoveSubscriber to drop a stale callback
}

// pendingDrain is a subscription whose cache drain backed off; retried on
// Tick.
type pendingDrain struct {
	sub        topicuuid.CopilotSub
	stream     topicuuid.StreamID
	topic      topicuuid.UUID
	log        topicuuid.LogID
	from       topicuuid.SeqNo
	tailOrigin bool
	live       *bool
}

// TopicTailer is the single-threaded coordinator. Every method here must
// only be called from the owning Room's worker goroutine — see
// AddSubscriber etc. on Room for the cross-goroutine-safe equivalents.
type TopicTailer struct {
	cfg     Config
	router  *logrouter.Router
	tailer  logtailer.Tailer
	cache   *cache.Cache
	flow    *flowcontrol.Controller
	sink    ClientSink
	metrics *metrics
	enqueue func(func())

	readers      []*reader.Reader
	readerByID   map[reader.ID]*reader.Reader
	logOwner     map[topicuuid.LogID]reader.ID
	topicMgrs    map[topicuuid.LogID]*topicmgr.Manager
	sources      map[reader.ID]*readerSource
	subs         *subscriptionMap
	pendingTails []*pendingTail
	pendingDrain []*pendingDrain

	nextRotation time.Time

	prevApplied, prevLifted int64
}

// New constructs a TopicTailer. enqueue lets asynchronous collaborators
// (FindLatestSeqno's callback, a flow-control "ready" notification) hop
// back onto the owning Room's worker goroutine.
func New(cfg Config, router *logrouter.Router, tailer logtailer.Tailer, sink ClientSink, reg prometheus.Registerer, enqueue func(func())) *TopicTailer {
	cfg = cfg.withDefaults()
	t := &TopicTailer{
		cfg:        cfg,
		router:     router,
		tailer:     tailer,
		cache:      cache.New(cfg.Cache),
		flow:       flowcontrol.New(cfg.BackpressureWarnAfter, warnBlockedSource),
		sink:       sink,
		metrics:    newMetrics(reg),
		enqueue:    enqueue,
		readerByID: make(map[reader.ID]*reader.Reader),
		logOwner:   make(map[topicuuid.LogID]reader.ID),
		topicMgrs:  make(map[topicuuid.LogID]*topicmgr.Manager),
		sources:    make(map[reader.ID]*readerSource),
		subs:       newSubscriptionMap(),
	}
	t.flow.SetFindSeqnoLimit(cfg.MaxFindSeqnoRequests)
	for i := 0; i < cfg.ReadersPerRoom; i++ {
		r := reader.New(reader.NextID(), cfg.MaxSubscriptionLag)
		t.readers = append(t.readers, r)
		t.readerByID[r.ID] = r
	}
	t.scheduleNextRotation(time.Now())
	return t
}

func (t *TopicTailer) topicMgr(log topicuuid.LogID) *topicmgr.Manager {
	m, ok := t.topicMgrs[log]
	if !ok {
		m = topicmgr.New()
		t.topicMgrs[log] = m
	}
	return m
}

func (t *TopicTailer) sourceFor(id reader.ID) *readerSource {
	s, ok := t.sources[id]
	if !ok {
		s = &readerSource{id: id, tower: t}
		t.sources[id] = s
	}
	return s
}

const maxSeqno topicuuid.SeqNo = ^topicuuid.SeqNo(0)

// AddSubscriber registers a new subscription on topic starting at
// startSeqno (0 means "subscribe at tail").
func (t *TopicTailer) AddSubscriber(topic topicuuid.UUID, startSeqno topicuuid.SeqNo, sub topicuuid.CopilotSub, stream topicuuid.StreamID) status.Status {
	log := t.router.Route(topic)
	if startSeqno == topicuuid.Tail {
		live := true
		t.pendingTails = append(t.pendingTails, &pendingTail{sub: sub, stream: stream, topic: topic, log: log, live: &live})
		t.issueFindLatestSeqno(topic, log, sub, stream, &live)
		return status.OKStatus
	}
	return t.attach(topic, log, startSeqno, sub, stream, false)
}

func (t *TopicTailer) issueFindLatestSeqno(topic topicuuid.UUID, log topicuuid.LogID, sub topicuuid.CopilotSub, stream topicuuid.StreamID, live *bool) {
	if !t.flow.AllowFindSeqno() {
		return // retried from Tick
	}
	t.tailer.FindLatestSeqno(log, func(st status.Status, tail topicuuid.SeqNo) {
		t.enqueue(func() { t.onTailResolved(topic, log, sub, stream, live, st, tail) })
	})
}

func (t *TopicTailer) onTailResolved(topic topicuuid.UUID, log topicuuid.LogID, sub topicuuid.CopilotSub, stream topicuuid.StreamID, live *bool, st status.Status, tail topicuuid.SeqNo) {
	if !*live {
		t.metrics.staleFindSeqnoResponses.Inc()
		return // subscription was removed before the response arrived
	}
	if !st.Ok() {
		logFailure("FindLatestSeqno failed", st, slog.Uint64("log_id", uint64(log)))
		return
	}
	// The request is answered: take it off the pending list so Tick does
	// not issue it again. A response whose entry is already gone repeats
	// one handled earlier.
	found := false
	for i, p := range t.pendingTails {
		if p.live == live {
			t.pendingTails = append(t.pendingTails[:i], t.pendingTails[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	if tail > 0 {
		t.sink.SendGap(sub, wire.Gap{Type: wire.GapBenign, From: 0, To: uint64(tail - 1)})
	}
	actual := tail
	if !t.tailer.CanSubscribePastEnd() && tail > 0 {
		actual = tail - 1
	}
	t.attach(topic, log, actual, sub, stream, true)
	if rid, ok := t.logOwner[log]; ok {
		t.readerByID[rid].SuggestTailSeqno(log, tail)
	}
}

// attach drains the cache for (topic, seqno) if applicable, then assigns
// the subscription to a reader at whatever seqno the cache didn't serve.
func (t *TopicTailer) attach(topic topicuuid.UUID, log topicuuid.LogID, seqno topicuuid.SeqNo, sub topicuuid.CopilotSub, stream topicuuid.StreamID, tailOrigin bool) status.Status {
	actual := seqno
	firstDelivered := false
	outcome := t.cache.Read(log, topic, seqno, maxSeqno, func(rec cache.Record) bool {
		prev := actual
		if tailOrigin && !firstDelivered {
			prev = 0
		}
		ok := t.sink.SendDeliver(sub, wire.Deliver{Topic: topic.Name, Namespace: topic.Namespace, SeqPrev: uint64(prev), Seq: uint64(rec.Seqno), Payload: rec.Payload})
		if ok {
			t.metrics.recordsServedFromCache.Inc()
			actual = rec.Seqno + 1
			firstDelivered = true
		}
		return ok
	})
	if firstDelivered {
		tailOrigin = false
	}
	if outcome == cache.ReadBackoff {
		t.metrics.cacheReaderBackoff.Inc()
		live := true
		t.pendingDrain = append(t.pendingDrain, &pendingDrain{sub: sub, stream: stream, topic: topic, log: log, from: actual, tailOrigin: tailOrigin, live: &live})
		return status.OKStatus
	}
	return t.assignReader(topic, log, actual, sub, stream, tailOrigin)
}

// assignReader implements the reader assignment policy: prefer a reader
// already on log that needs no rewind, then one on log accepting a
// rewind, then any free reader, else the least-loaded reader. There is no
// pending queue: when every reader is busy on other logs, the
// subscription is still opened at once on the least-loaded reader.
func (t *TopicTailer) assignReader(topic topicuuid.UUID, log topicuuid.LogID, seqno topicuuid.SeqNo, sub topicuuid.CopilotSub, stream topicuuid.StreamID, tailOrigin bool) status.Status {
	var chosen *reader.Reader
	var noRewind, anyOnLog, free *reader.Reader
	for _, r := range t.readers {
		ls := r.LogState(log)
		if ls != nil {
			if ls.LastRead+1 <= seqno && noRewind == nil {
				noRewind = r
			}
			if anyOnLog == nil {
				anyOnLog = r
			}
		} else if free == nil {
			free = r
		}
	}
	switch {
	case noRewind != nil:
		chosen = noRewind
	case anyOnLog != nil:
		chosen = anyOnLog
	case free != nil:
		chosen = free
	default:
		// Every reader is already busy on other logs. Fall back to the
		// least-loaded one; small, fixed pools make unbounded queuing here
		// unnecessary.
		chosen = t.leastLoadedReader()
	}

	if existing := t.subs.get(sub); existing != nil {
		t.detach(existing)
	}

	st := chosen.StartReading(topic, log, seqno, func(l topicuuid.LogID, s topicuuid.SeqNo, rid reader.ID, firstOpen bool) status.Status {
		return t.tailer.StartReading(l, s, rid, firstOpen)
	})
	if !st.Ok() {
		return st
	}
	t.logOwner[log] = chosen.ID
	t.topicMgr(log).AddSubscriber(topic, seqno, sub, tailOrigin)
	t.subs.put(&subscription{Sub: sub, Stream: stream, Topic: topic, Log: log, ReaderID: chosen.ID})
	t.sourceFor(chosen.ID)
	t.metrics.subscribersAdded.Inc()
	return status.OKStatus
}

func (t *TopicTailer) leastLoadedReader() *reader.Reader {
	best := t.readers[0]
	bestLoad := -1
	for _, r := range t.readers {
		load := readerLoad(r)
		if bestLoad == -1 || load < bestLoad {
			bestLoad = load
			best = r
		}
	}
	return best
}

func (t *TopicTailer) mostLoadedReader() *reader.Reader {
	worst := t.readers[0]
	worstLoad := -1
	for _, r := range t.readers {
		load := readerLoad(r)
		if load > worstLoad {
			worstLoad = load
			worst = r
		}
	}
	return worst
}

func readerLoad(r *reader.Reader) int {
	load := 0
	for _, ls := range r.Logs() {
		load += ls.NumSubscribers
	}
	return load
}

// RemoveSubscriber tears down a single subscription.
func (t *TopicTailer) RemoveSubscriber(sub topicuuid.CopilotSub) status.Status {
	s := t.subs.get(sub)
	if s == nil {
		t.cancelPending(sub)
		return status.OKStatus
	}
	t.detach(s)
	t.cancelPending(sub)
	t.metrics.subscribersRemoved.Inc()
	return status.OKStatus
}

// RemoveStream tears down every subscription owned by stream (client
// disconnect), cancelling any outstanding cache drains for it.
func (t *TopicTailer) RemoveStream(stream topicuuid.StreamID) status.Status {
	for _, sub := range t.subs.subsForStream(stream) {
		t.RemoveSubscriber(sub)
	}
	filteredTails := t.pendingTails[:0]
	for _, p := range t.pendingTails {
		if p.stream == stream {
			*p.live = false
			continue
		}
		filteredTails = append(filteredTails, p)
	}
	t.pendingTails = filteredTails

	filteredDrains := t.pendingDrain[:0]
	for _, p := range t.pendingDrain {
		if p.stream == stream {
			*p.live = false
			continue
		}
		filteredDrains = append(filteredDrains, p)
	}
	t.pendingDrain = filteredDrains
	return status.OKStatus
}

func (t *TopicTailer) cancelPending(sub topicuuid.CopilotSub) {
	for _, p := range t.pendingTails {
		if p.sub == sub {
			*p.live = false
		}
	}
	for _, p := range t.pendingDrain {
		if p.sub == sub {
			*p.live = false
		}
	}
}

func (t *TopicTailer) detach(s *subscription) {
	t.subs.delete(s.Sub)
	tm := t.topicMgr(s.Log)
	tm.RemoveSubscriber(s.Topic, s.Sub)
	r := t.readerByID[s.ReaderID]
	if r == nil {
		return
	}
	st := r.StopReading(s.Topic, s.Log, func(l topicuuid.LogID, rid reader.ID) status.Status {
		return t.tailer.StopReading(l, rid)
	})
	if !st.Ok() {
		logFailure("StopReading failed", st, slog.Uint64("log_id", uint64(s.Log)))
	}
	if !r.IsReading(s.Log) {
		delete(t.logOwner, s.Log)
	}
}

// SendLogRecord is invoked by the Log Tailer for each record read off a
// log this reader has open.
func (t *TopicTailer) SendLogRecord(log topicuuid.LogID, seqno topicuuid.SeqNo, topic topicuuid.UUID, payload []byte, rdrID reader.ID) {
	r := t.readerByID[rdrID]
	if r == nil {
		return
	}
	prevAgg, isTail, st := r.ProcessRecord(log, seqno, topic)
	if !st.Ok() {
		return // NotFound: recovered locally; the reader logs the out-of-order case
	}
	t.cache.Put(log, seqno, topic, payload)
	t.metrics.logRecordsReceived.Inc()
	t.metrics.logRecordsReceivedByLog.WithLabelValues(strconv.FormatUint(uint64(log), 10)).Inc()
	if isTail {
		t.metrics.tailRecordsReceived.Inc()
	} else {
		t.metrics.backlogRecordsReceived.Inc()
	}

	tm, ok := t.topicMgrs[log]
	if ok {
		tm.VisitSubscribers(topic, prevAgg, seqno, func(s *topicmgr.Subscriber) {
			t.deliverRecord(rdrID, s, topic, seqno, payload)
		})
	}

	r.BumpLaggingSubscriptions(log, seqno, func(ev reader.BumpEvent) {
		t.emitLagGap(rdrID, log, ev.Topic, seqno)
	})
}

func (t *TopicTailer) deliverRecord(rdrID reader.ID, s *topicmgr.Subscriber, topic topicuuid.UUID, seqno topicuuid.SeqNo, payload []byte) {
	prev := s.LastSeqno
	if s.TailOrigin {
		prev = 0
		s.TailOrigin = false
	}
	msg := wire.Deliver{Topic: topic.Name, Namespace: topic.Namespace, SeqPrev: uint64(prev), Seq: uint64(seqno), Payload: payload}
	item := deliverItem{sub: s.Sub, msg: msg}
	src := t.sourceFor(rdrID)
	if !t.flow.TryWrite(src.clientSink(), src, item) {
		src.pending = append(src.pending, func() bool { return src.clientSink().Write(item) })
	}
	s.LastSeqno = seqno
	s.NextSeqno = seqno + 1
}

func (t *TopicTailer) emitLagGap(rdrID reader.ID, log topicuuid.LogID, topic topicuuid.UUID, currentSeqno topicuuid.SeqNo) {
	tm, ok := t.topicMgrs[log]
	if !ok || currentSeqno == 0 {
		return
	}
	to := currentSeqno - 1
	tm.VisitSubscribers(topic, 0, to, func(s *topicmgr.Subscriber) {
		logging.VInfo("lag", "bumping lagging subscriber",
			slog.Uint64("sub", uint64(s.Sub)), slog.Uint64("log_id", uint64(log)),
			slog.Uint64("from", uint64(s.NextSeqno)), slog.Uint64("to", uint64(currentSeqno+1)))
		t.deliverGap(rdrID, s, wire.GapBenign, to)
		s.NextSeqno = currentSeqno + 1
	})
}

func (t *TopicTailer) deliverGap(rdrID reader.ID, s *topicmgr.Subscriber, gapType wire.GapType, to topicuuid.SeqNo) {
	from := s.LastSeqno
	if s.TailOrigin {
		from = 0
		s.TailOrigin = false
	}
	msg := wire.Gap{Type: gapType, From: uint64(from), To: uint64(to)}
	item := gapItem{sub: s.Sub, msg: msg}
	src := t.sourceFor(rdrID)
	if !t.flow.TryWrite(src.clientSink(), src, item) {
		src.pending = append(src.pending, func() bool { return src.clientSink().Write(item) })
	}
	s.LastSeqno = to
}

// SendGapRecord is invoked by the Log Tailer when it cannot supply
// records for [from, to] on log. gapType Benign means no data was lost;
// Retention/DataLoss are malignant and force a history flush.
func (t *TopicTailer) SendGapRecord(log topicuuid.LogID, gapType wire.GapType, from, to topicuuid.SeqNo, rdrID reader.ID) {
	r := t.readerByID[rdrID]
	if r == nil {
		return
	}
	if st := r.ValidateGap(log, from); !st.Ok() {
		return
	}

	tm, ok := t.topicMgrs[log]
	if ok {
		tm.VisitTopics(func(topic topicuuid.UUID) {
			tm.VisitSubscribers(topic, 0, to, func(s *topicmgr.Subscriber) {
				t.deliverGap(rdrID, s, gapType, to)
				s.NextSeqno = to + 1
			})
		})
	}

	if gapType == wire.GapBenign {
		r.ProcessBenignGap(log, from, to)
		return
	}
	r.FlushHistory(log, to+1)
}

// Tick drives time-based work: retrying queued FindLatestSeqno issuance,
// retrying backed-off cache drains, opportunistic reader merging, and
// syncing backpressure counters.
func (t *TopicTailer) Tick() {
	t.retryPendingTails()
	t.retryPendingDrains()
	t.mergeReaders()
	t.rotateReaders(time.Now())
	applied, lifted := t.flow.Stats()
	t.metrics.syncBackpressure(applied, lifted, &t.prevApplied, &t.prevLifted)
	t.flow.CheckStalls(time.Now())
}

// scheduleNextRotation picks the next time rotateReaders is allowed to act,
// uniformly within [MinReaderRestartDuration, MaxReaderRestartDuration) of
// now — this is the reader rotation policy spec.md leaves open.
func (t *TopicTailer) scheduleNextRotation(now time.Time) {
	span := t.cfg.MaxReaderRestartDuration - t.cfg.MinReaderRestartDuration
	delay := t.cfg.MinReaderRestartDuration
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	t.nextRotation = now.Add(delay)
}

// rotateReaders migrates one subscription off the busiest reader onto the
// least loaded one, at most once per rotation window, to keep long-lived
// rooms from accumulating an imbalanced reader pool.
func (t *TopicTailer) rotateReaders(now time.Time) {
	if now.Before(t.nextRotation) {
		return
	}
	t.scheduleNextRotation(now)
	if len(t.readers) < 2 {
		return
	}
	busiest := t.mostLoadedReader()
	target := t.leastLoadedReader()
	if busiest == target {
		return
	}

	for log, ls := range busiest.Logs() {
		var victim *subscription
		for _, sub := range t.subs.bySub {
			if sub.Log == log && sub.ReaderID == busiest.ID {
				victim = sub
				break
			}
		}
		if victim == nil {
			continue
		}
		st := target.StartReading(victim.Topic, log, ls.LastRead+1, func(l topicuuid.LogID, seqno topicuuid.SeqNo, rid reader.ID, firstOpen bool) status.Status {
			return t.tailer.StartReading(l, seqno, rid, firstOpen)
		})
		if !st.Ok() {
			continue
		}
		busiest.StopReading(victim.Topic, log, func(l topicuuid.LogID, rid reader.ID) status.Status {
			return t.tailer.StopReading(l, rid)
		})
		victim.ReaderID = target.ID
		t.logOwner[log] = target.ID
		t.metrics.readerRotations.Inc()
		logging.VInfo("rotate", "migrated subscription off busy reader",
			slog.Uint64("log_id", uint64(log)), slog.Int("from_reader", int(busiest.ID)),
			slog.Int("to_reader", int(target.ID)))
		return
	}
}

func (t *TopicTailer) retryPendingTails() {
	remaining := t.pendingTails[:0]
	for _, p := range t.pendingTails {
		if !*p.live {
			continue
		}
		remaining = append(remaining, p)
		if t.flow.AllowFindSeqno() {
			t.issueFindLatestSeqno(p.topic, p.log, p.sub, p.stream, p.live)
		}
	}
	t.pendingTails = remaining
}

func (t *TopicTailer) retryPendingDrains() {
	remaining := t.pendingDrain[:0]
	for _, p := range t.pendingDrain {
		if !*p.live {
			continue
		}
		st := t.attach(p.topic, p.log, p.from, p.sub, p.stream, p.tailOrigin)
		if !st.Ok() {
			remaining = append(remaining, p)
		}
		// attach() itself re-parks a backoff into a fresh pendingDrain
		// entry, so don't also keep this one around on success.
	}
	t.pendingDrain = remaining
}

// mergeReaders opportunistically folds one reader's subscriptions on a
// log into another reader on that log that is not ahead of it, bounded to
// one merge per Tick to keep the scan cheap.
func (t *TopicTailer) mergeReaders() {
	for i, src := range t.readers {
		for _, dst := range t.readers[i+1:] {
			if t.tryMerge(src, dst) {
				t.metrics.readerMerges.Inc()
				return
			}
			if t.tryMerge(dst, src) {
				t.metrics.readerMerges.Inc()
				return
			}
		}
	}
}

func (t *TopicTailer) tryMerge(src, dst *reader.Reader) bool {
	for log, srcLS := range src.Logs() {
		dstLS := dst.LogState(log)
		if dstLS == nil || dstLS.LastRead > srcLS.LastRead {
			continue // dst would need to rewind to absorb src; not worth it
		}
		// dst is at or behind src on this log, so reading forward it still
		// reaches every record src's subscriptions have not seen: move
		// every subscription over one at a time so each log's refcounts on
		// both readers stay consistent, then src's reading of the log
		// closes itself once its last subscriber has moved off.
		subsToMove := make([]*subscription, 0)
		for _, sub := range t.subs.bySub {
			if sub.Log == log && sub.ReaderID == src.ID {
				subsToMove = append(subsToMove, sub)
			}
		}
		if len(subsToMove) == 0 {
			continue
		}
		for _, s := range subsToMove {
			if st := dst.StartReading(s.Topic, log, dstLS.LastRead+1, func(l topicuuid.LogID, seqno topicuuid.SeqNo, rid reader.ID, firstOpen bool) status.Status {
				return status.OKStatus // dst already has the log open
			}); !st.Ok() {
				continue
			}
			src.StopReading(s.Topic, log, func(l topicuuid.LogID, rid reader.ID) status.Status {
				return t.tailer.StopReading(l, rid)
			})
			s.ReaderID = dst.ID
			t.logOwner[log] = dst.ID
		}
		logging.VInfo("merge", "folded reader subscriptions",
			slog.Uint64("log_id", uint64(log)), slog.Int("src_reader", int(src.ID)),
			slog.Int("dst_reader", int(dst.ID)), slog.Int("moved", len(subsToMove)))
		return true
	}
	return false
}

// warnBlockedSource logs a source that has stayed blocked on a full sink
// past the configured threshold.
func warnBlockedSource(_ flowcontrol.Source, d time.Duration) {
	slog.Warn("source blocked on a full sink", slog.Duration("blocked_for", d))
}

// logFailure logs a non-OK status at the level its severity warrants.
// InternalError marks an invariant violation rather than a runtime
// condition; in a debug build it panics after logging so the bug surfaces
// immediately instead of being silently tolerated in production.
func logFailure(msg string, st status.Status, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)*2+2)
	args = append(args, slog.String("error", st.Error()))
	for _, a := range attrs {
		args = append(args, a)
	}
	if st.Code == status.InternalError {
		slog.Error(msg, args...)
		if config.Config != nil && config.Config.Debug {
			panic(msg + ": " + st.Error())
		}
		return
	}
	slog.Warn(msg, args...)
}
