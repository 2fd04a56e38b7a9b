package reader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
)

func noopStart(topicuuid.LogID, topicuuid.SeqNo, ID, bool) status.Status { return status.OKStatus }
func noopStop(topicuuid.LogID, ID) status.Status                        { return status.OKStatus }

func TestProcessRecordAdvancesLastReadAndTopic(t *testing.T) {
	r := New(1, 10000)
	topic := topicuuid.New(1, "T")
	log := topicuuid.LogID(1)

	require.True(t, r.StartReading(topic, log, 5, noopStart).Ok())

	// The reader attached at start_seqno 5, so its last_read begins at 4.
	ls := r.LogState(log)
	require.Equal(t, topicuuid.SeqNo(4), ls.LastRead)

	prev, isTail, st := r.ProcessRecord(log, 5, topic)
	require.True(t, st.Ok())
	require.False(t, isTail)
	require.Equal(t, topicuuid.SeqNo(5), prev)
	require.Equal(t, topicuuid.SeqNo(5), ls.LastRead)
}

func TestProcessRecordOutOfOrderFails(t *testing.T) {
	r := New(1, 10000)
	topic := topicuuid.New(1, "T")
	log := topicuuid.LogID(1)
	require.True(t, r.StartReading(topic, log, 5, noopStart).Ok())

	_, _, st := r.ProcessRecord(log, 7, topic)
	require.Equal(t, status.NotFound, st.Code)
}

func TestProcessRecordUnknownTopicYieldsZeroPrev(t *testing.T) {
	r := New(1, 10000)
	t1 := topicuuid.New(1, "T1")
	other := topicuuid.New(1, "OTHER")
	log := topicuuid.LogID(1)
	require.True(t, r.StartReading(t1, log, 5, noopStart).Ok())

	prev, _, st := r.ProcessRecord(log, 5, other)
	require.True(t, st.Ok())
	require.Equal(t, topicuuid.SeqNo(0), prev)
}

func TestTailDetection(t *testing.T) {
	r := New(1, 10000)
	topic := topicuuid.New(1, "T")
	log := topicuuid.LogID(1)
	require.True(t, r.StartReading(topic, log, 5, noopStart).Ok())
	r.SuggestTailSeqno(log, 5)

	_, isTail, st := r.ProcessRecord(log, 5, topic)
	require.True(t, st.Ok())
	require.True(t, isTail)
	require.Equal(t, topicuuid.SeqNo(6), r.LogState(log).TailSeqno)
}

func TestRewindFlushesHistoryBelowStart(t *testing.T) {
	r := New(1, 10000)
	topic := topicuuid.New(1, "W")
	log := topicuuid.LogID(1)

	require.True(t, r.StartReading(topic, log, 60, noopStart).Ok())
	// Advance the reader up to seqno 100.
	for s := topicuuid.SeqNo(60); s <= 100; s++ {
		_, _, st := r.ProcessRecord(log, s, topic)
		require.True(t, st.Ok())
	}
	require.Equal(t, topicuuid.SeqNo(100), r.LogState(log).LastRead)

	// New subscriber at seqno=50, below start_seqno(60): rewinds and
	// flushes topic history; only the new subscriber's entry is left.
	require.True(t, r.StartReading(topic, log, 50, noopStart).Ok())
	ls := r.LogState(log)
	require.Equal(t, topicuuid.SeqNo(49), ls.LastRead)
	require.Equal(t, topicuuid.SeqNo(50), ls.StartSeqno)
	require.Equal(t, 1, ls.Topics.Len())
}

func TestFlushHistoryOnMalignantGap(t *testing.T) {
	r := New(1, 10000)
	x := topicuuid.New(1, "X")
	y := topicuuid.New(1, "Y")
	log := topicuuid.LogID(3)

	require.True(t, r.StartReading(x, log, 10, noopStart).Ok())
	require.True(t, r.StartReading(y, log, 10, noopStart).Ok())

	// Gap [10,10] brings the log to last_read=10. ProcessGap checks and
	// advances the log position, so the gap is processed once.
	_, st := r.ProcessGap(log, x, topicuuid.SeqNo(10), topicuuid.SeqNo(10))
	require.True(t, st.Ok())

	// Gap(DataLoss, 11, 20): malignant → flush.
	require.True(t, r.ValidateGap(log, 11).Ok())
	r.FlushHistory(log, 21)
	ls := r.LogState(log)
	require.Equal(t, 0, ls.Topics.Len())
	require.Equal(t, topicuuid.SeqNo(20), ls.LastRead)

	// The log stays open; the next record for X arrives with prev_seqno=0
	// because history was cleared.
	require.True(t, r.IsReading(log))
	prev, _, st := r.ProcessRecord(log, 21, x)
	require.True(t, st.Ok())
	require.Equal(t, topicuuid.SeqNo(0), prev)
}

func TestBumpLaggingSubscriptions(t *testing.T) {
	r := New(1, 10)
	v := topicuuid.New(1, "V")
	log := topicuuid.LogID(1)
	require.True(t, r.StartReading(v, log, 5, noopStart).Ok())

	var bumped []BumpEvent
	r.BumpLaggingSubscriptions(log, 15, func(e BumpEvent) { bumped = append(bumped, e) })
	require.Empty(t, bumped) // next(5)+lag(10)=15 >= current(15): not lagging yet.

	r.BumpLaggingSubscriptions(log, 16, func(e BumpEvent) { bumped = append(bumped, e) })
	require.Len(t, bumped, 1)
	require.Equal(t, v, bumped[0].Topic)
	require.Equal(t, topicuuid.SeqNo(5), bumped[0].OldNext)

	ls := r.LogState(log)
	ts, _ := ls.Topics.Get(v)
	require.Equal(t, topicuuid.SeqNo(17), ts.(*TopicState).NextSeqno)
}

func TestBumpNeverFiresWithinThreshold(t *testing.T) {
	r := New(1, 10)
	v := topicuuid.New(1, "V")
	log := topicuuid.LogID(1)
	require.True(t, r.StartReading(v, log, 5, noopStart).Ok())

	// next_seqno(5) + lag(10) = 15 >= current(15): must not bump.
	var bumped bool
	r.BumpLaggingSubscriptions(log, 15, func(BumpEvent) { bumped = true })
	require.False(t, bumped)
}

func TestStopReadingClosesLogOnLastSubscriber(t *testing.T) {
	r := New(1, 10000)
	topic := topicuuid.New(1, "T")
	log := topicuuid.LogID(1)
	stopped := 0
	stop := func(topicuuid.LogID, ID) status.Status { stopped++; return status.OKStatus }

	require.True(t, r.StartReading(topic, log, 5, noopStart).Ok())
	st := r.StopReading(topic, log, stop)
	require.True(t, st.Ok())
	require.Equal(t, 1, stopped)
	require.False(t, r.IsReading(log))
}

