package tower

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sevenDatabase/controltower/internal/cache"
	"github.com/sevenDatabase/controltower/internal/logrouter"
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/wire"
)

type startCall struct {
	Log       topicuuid.LogID
	Seqno     topicuuid.SeqNo
	Rdr       reader.ID
	FirstOpen bool
}

type fakeTailer struct {
	mu         sync.Mutex
	starts     []startCall
	stops      []topicuuid.LogID
	tails      map[topicuuid.LogID]topicuuid.SeqNo
	canPastEnd bool
}

func newFakeTailer() *fakeTailer {
	return &fakeTailer{tails: make(map[topicuuid.LogID]topicuuid.SeqNo), canPastEnd: true}
}

func (f *fakeTailer) StartReading(log topicuuid.LogID, seqno topicuuid.SeqNo, rdr reader.ID, firstOpen bool) status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{log, seqno, rdr, firstOpen})
	return status.OKStatus
}

func (f *fakeTailer) StopReading(log topicuuid.LogID, rdr reader.ID) status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, log)
	return status.OKStatus
}

func (f *fakeTailer) FindLatestSeqno(log topicuuid.LogID, callback func(status.Status, topicuuid.SeqNo)) {
	callback(status.OKStatus, f.tails[log])
}

func (f *fakeTailer) CanSubscribePastEnd() bool { return f.canPastEnd }

type deliverRecord struct {
	sub topicuuid.CopilotSub
	msg wire.Deliver
}

type gapRecord struct {
	sub topicuuid.CopilotSub
	msg wire.Gap
}

type fakeSink struct {
	mu       sync.Mutex
	delivers []deliverRecord
	gaps     []gapRecord
}

func (f *fakeSink) SendDeliver(sub topicuuid.CopilotSub, msg wire.Deliver) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivers = append(f.delivers, deliverRecord{sub, msg})
	return true
}

func (f *fakeSink) SendGap(sub topicuuid.CopilotSub, msg wire.Gap) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gaps = append(f.gaps, gapRecord{sub, msg})
	return true
}

func (f *fakeSink) deliversFor(sub topicuuid.CopilotSub) []wire.Deliver {
	var out []wire.Deliver
	for _, d := range f.delivers {
		if d.sub == sub {
			out = append(out, d.msg)
		}
	}
	return out
}

func (f *fakeSink) gapsFor(sub topicuuid.CopilotSub) []wire.Gap {
	var out []wire.Gap
	for _, g := range f.gaps {
		if g.sub == sub {
			out = append(out, g.msg)
		}
	}
	return out
}

func newTestTower(t *testing.T, cfg Config, tailer *fakeTailer, sink *fakeSink) (*TopicTailer, *logrouter.Router) {
	t.Helper()
	router := logrouter.New(1)
	tt := New(cfg, router, tailer, sink, nil, func(fn func()) { fn() })
	return tt, router
}

func TestBasicFanOut(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{}, tailer, sink)

	T := topicuuid.New(1, "T")
	other := topicuuid.New(1, "other")
	log := router.Route(T)
	require.Equal(t, log, router.Route(other))

	const subA, subB topicuuid.CopilotSub = 1, 2
	require.True(t, tt.AddSubscriber(T, 5, subA, 100).Ok())
	require.True(t, tt.AddSubscriber(T, 8, subB, 101).Ok())

	tt.SendLogRecord(log, 5, T, []byte("r5"), tt.readers[0].ID)
	tt.SendLogRecord(log, 6, other, []byte("r6"), tt.readers[0].ID)
	tt.SendLogRecord(log, 7, T, []byte("r7"), tt.readers[0].ID)
	tt.SendLogRecord(log, 8, other, []byte("r8"), tt.readers[0].ID)
	tt.SendLogRecord(log, 9, T, []byte("r9"), tt.readers[0].ID)

	aMsgs := sink.deliversFor(subA)
	require.Len(t, aMsgs, 3)
	require.Equal(t, []uint64{5, 7, 9}, []uint64{aMsgs[0].Seq, aMsgs[1].Seq, aMsgs[2].Seq})
	require.Equal(t, []uint64{5, 5, 7}, []uint64{aMsgs[0].SeqPrev, aMsgs[1].SeqPrev, aMsgs[2].SeqPrev})

	bMsgs := sink.deliversFor(subB)
	require.Len(t, bMsgs, 1)
	require.Equal(t, uint64(9), bMsgs[0].Seq)
	require.Equal(t, uint64(8), bMsgs[0].SeqPrev)
}

func TestTailSubscribe(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{}, tailer, sink)

	U := topicuuid.New(2, "U")
	log := router.Route(U)
	tailer.tails[log] = 100

	const subC topicuuid.CopilotSub = 1
	require.True(t, tt.AddSubscriber(U, topicuuid.Tail, subC, 100).Ok())

	gaps := sink.gapsFor(subC)
	require.Len(t, gaps, 1)
	require.Equal(t, wire.GapBenign, gaps[0].Type)
	require.Equal(t, uint64(0), gaps[0].From)
	require.Equal(t, uint64(99), gaps[0].To)

	var rdrID reader.ID
	for _, r := range tt.readers {
		if r.IsReading(log) {
			rdrID = r.ID
		}
	}
	tt.SendLogRecord(log, 100, U, []byte("tail"), rdrID)
	tt.SendLogRecord(log, 101, U, []byte("tail+1"), rdrID)

	msgs := sink.deliversFor(subC)
	require.Len(t, msgs, 2)
	require.Equal(t, uint64(0), msgs[0].SeqPrev)
	require.Equal(t, uint64(100), msgs[0].Seq)
	require.Equal(t, uint64(100), msgs[1].SeqPrev)
	require.Equal(t, uint64(101), msgs[1].Seq)
}

func TestLagBumpRespectsThreshold(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{MaxSubscriptionLag: 10}, tailer, sink)

	V := topicuuid.New(3, "V")
	other := topicuuid.New(3, "other")
	log := router.Route(V)

	const subD topicuuid.CopilotSub = 1
	require.True(t, tt.AddSubscriber(V, 5, subD, 100).Ok())
	rdrID := tt.readers[0].ID

	for seqno := topicuuid.SeqNo(5); seqno <= 16; seqno++ {
		tt.SendLogRecord(log, seqno, other, []byte("x"), rdrID)
	}

	gaps := sink.gapsFor(subD)
	require.Len(t, gaps, 1, "bump must fire exactly once by the time next_seqno+lag < current_seqno")
	require.Equal(t, wire.GapBenign, gaps[0].Type)
	require.Equal(t, uint64(5), gaps[0].From)
	require.Equal(t, uint64(15), gaps[0].To)

	tt.SendLogRecord(log, 17, V, []byte("v17"), rdrID)
	msgs := sink.deliversFor(subD)
	require.Len(t, msgs, 1)
	require.Equal(t, uint64(15), msgs[0].SeqPrev, "prev_seqno must chain from the gap's To")
	require.Equal(t, uint64(17), msgs[0].Seq)
}

func TestMalignantGapFlushesHistory(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{}, tailer, sink)

	X := topicuuid.New(4, "X")
	log := router.Route(X)

	const subE topicuuid.CopilotSub = 1
	require.True(t, tt.AddSubscriber(X, 10, subE, 100).Ok())
	rdrID := tt.readers[0].ID
	tt.SendLogRecord(log, 10, X, []byte("r10"), rdrID)

	tt.SendGapRecord(log, wire.GapDataLoss, 11, 20, rdrID)

	gaps := sink.gapsFor(subE)
	require.Len(t, gaps, 1)
	require.Equal(t, wire.GapDataLoss, gaps[0].Type)
	require.Equal(t, uint64(10), gaps[0].From)
	require.Equal(t, uint64(20), gaps[0].To)

	tt.SendLogRecord(log, 21, X, []byte("r21"), rdrID)
	msgs := sink.deliversFor(subE)
	require.Len(t, msgs, 2)
	require.Equal(t, uint64(20), msgs[1].SeqPrev, "client-visible prev still chains from the gap's To")
	require.Equal(t, uint64(21), msgs[1].Seq)
}

func TestRewindRedeliversFlushedHistory(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{}, tailer, sink)

	W := topicuuid.New(5, "W")
	log := router.Route(W)

	const subF, subE topicuuid.CopilotSub = 1, 2
	require.True(t, tt.AddSubscriber(W, 60, subF, 100).Ok())
	rdrID := tt.readers[0].ID
	for seqno := topicuuid.SeqNo(60); seqno <= 100; seqno++ {
		tt.SendLogRecord(log, seqno, W, []byte("w"), rdrID)
	}
	require.Len(t, sink.deliversFor(subF), 41)

	require.True(t, tt.AddSubscriber(W, 50, subE, 101).Ok())
	require.False(t, tailer.starts[len(tailer.starts)-1].FirstOpen, "rewind on an already-open log is not a fresh open")

	for seqno := topicuuid.SeqNo(50); seqno <= 100; seqno++ {
		tt.SendLogRecord(log, seqno, W, []byte("w-replay"), rdrID)
	}

	eMsgs := sink.deliversFor(subE)
	require.Len(t, eMsgs, 51)
	require.Equal(t, uint64(50), eMsgs[0].Seq)
	require.Equal(t, uint64(50), eMsgs[0].SeqPrev)
	for i := 1; i < len(eMsgs); i++ {
		require.Equal(t, eMsgs[i-1].Seq, eMsgs[i].SeqPrev, "redelivered stream must stay contiguous")
	}
	// F's next_seqno had already advanced past 100 before the rewind, so the
	// replay below it must not reach F again.
	require.Len(t, sink.deliversFor(subF), 41)
}

func TestCacheHitDrainsBeforeReaderAssignment(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{Cache: cache.Config{ByteBudget: 1 << 20, BlockSize: 1024}}, tailer, sink)

	Z := topicuuid.New(106, "Z") // outside the reserved namespaces the cache skips
	log := router.Route(Z)
	tt.cache.Put(log, 100, Z, []byte("p100"))
	tt.cache.Put(log, 110, Z, []byte("p110"))
	tt.cache.Put(log, 120, Z, []byte("p120"))

	const subG topicuuid.CopilotSub = 1
	require.True(t, tt.AddSubscriber(Z, 100, subG, 100).Ok())

	msgs := sink.deliversFor(subG)
	require.Len(t, msgs, 3)
	require.Equal(t, []uint64{100, 110, 120}, []uint64{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})

	require.Len(t, tailer.starts, 1, "the Log Tailer is only engaged once the cache drain runs dry")
	require.Equal(t, topicuuid.SeqNo(121), tailer.starts[0].Seqno)
}

func TestRemoveSubscriberLeavesNoResidualState(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, router := newTestTower(t, Config{}, tailer, sink)

	topic := topicuuid.New(7, "Solo")
	log := router.Route(topic)

	const sub topicuuid.CopilotSub = 1
	require.True(t, tt.AddSubscriber(topic, 1, sub, 100).Ok())
	require.True(t, tt.RemoveSubscriber(sub).Ok())

	require.Nil(t, tt.subs.get(sub))
	require.False(t, tt.topicMgr(log).HasTopic(topic))
	for _, r := range tt.readers {
		require.False(t, r.IsReading(log))
	}
	require.Len(t, tailer.stops, 1)
}

func TestMergeReadersFoldsFurtherAlongReaderIntoOneBehindIt(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, _ := newTestTower(t, Config{ReadersPerRoom: 2}, tailer, sink)

	const log topicuuid.LogID = 42
	topicA := topicuuid.New(8, "A")
	topicB := topicuuid.New(8, "B")
	r0, r1 := tt.readers[0], tt.readers[1]

	require.True(t, r0.StartReading(topicA, log, 10, tailer.StartReading).Ok())
	require.True(t, r1.StartReading(topicB, log, 10, tailer.StartReading).Ok())
	for seqno := topicuuid.SeqNo(10); seqno < 30; seqno++ {
		tt.SendLogRecord(log, seqno, topicA, []byte("x"), r0.ID)
	}

	const subOnSrc topicuuid.CopilotSub = 1
	tt.subs.put(&subscription{Sub: subOnSrc, Topic: topicA, Log: log, ReaderID: r0.ID})

	require.True(t, tt.tryMerge(r0, r1))
	require.Equal(t, r1.ID, tt.subs.get(subOnSrc).ReaderID)
	require.False(t, r0.IsReading(log), "src's reading of the log closes once its last subscriber moves off")
	require.Equal(t, r1.ID, tt.logOwner[log])
}

func TestStaleFindSeqnoResponseIsCountedAndDropped(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	router := logrouter.New(1)
	tt := New(Config{}, router, tailer, sink, prometheus.NewRegistry(), func(fn func()) { fn() })

	topic := topicuuid.New(9, "Stale")
	log := router.Route(topic)
	tailer.tails[log] = 50

	const sub topicuuid.CopilotSub = 1
	live := true
	tt.pendingTails = append(tt.pendingTails, &pendingTail{sub: sub, stream: 100, topic: topic, log: log, live: &live})
	live = false

	tt.onTailResolved(topic, log, sub, 100, &live, status.OKStatus, 50)

	require.Nil(t, tt.subs.get(sub), "a stale response must not attach the subscription")
	require.Equal(t, float64(1), testutil.ToFloat64(tt.metrics.staleFindSeqnoResponses))
}

func TestRotateReadersMigratesOneSubscriptionFromBusiestToLeastLoaded(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, _ := newTestTower(t, Config{ReadersPerRoom: 2}, tailer, sink)

	const logA, logB topicuuid.LogID = 1, 2
	topicA := topicuuid.New(10, "A")
	topicB := topicuuid.New(10, "B")
	busy, idle := tt.readers[0], tt.readers[1]

	require.True(t, busy.StartReading(topicA, logA, 10, tailer.StartReading).Ok())
	require.True(t, busy.StartReading(topicB, logB, 10, tailer.StartReading).Ok())

	const subA, subB topicuuid.CopilotSub = 1, 2
	tt.subs.put(&subscription{Sub: subA, Topic: topicA, Log: logA, ReaderID: busy.ID})
	tt.subs.put(&subscription{Sub: subB, Topic: topicB, Log: logB, ReaderID: busy.ID})
	tt.logOwner[logA] = busy.ID
	tt.logOwner[logB] = busy.ID

	tt.nextRotation = time.Time{} // force rotation to run immediately
	tt.rotateReaders(time.Now())

	require.Equal(t, float64(1), testutil.ToFloat64(tt.metrics.readerRotations))
	movedA := tt.subs.get(subA).ReaderID == idle.ID
	movedB := tt.subs.get(subB).ReaderID == idle.ID
	require.True(t, movedA != movedB, "exactly one subscription should have migrated off the busiest reader")
	require.False(t, tt.nextRotation.IsZero(), "a rotation pass must always reschedule its next window")
}

func TestScheduleNextRotationStaysWithinConfiguredWindow(t *testing.T) {
	tailer := newFakeTailer()
	sink := &fakeSink{}
	tt, _ := newTestTower(t, Config{MinReaderRestartDuration: 30 * time.Second, MaxReaderRestartDuration: 60 * time.Second}, tailer, sink)

	now := time.Now()
	tt.scheduleNextRotation(now)

	require.True(t, !tt.nextRotation.Before(now.Add(30*time.Second)))
	require.True(t, tt.nextRotation.Before(now.Add(60*time.Second)))
}
