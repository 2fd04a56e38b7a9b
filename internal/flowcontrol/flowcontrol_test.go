package flowcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct{ full bool }

func (f *fakeSink) Write(interface{}) bool { return !f.full }

type fakeSource struct{ resumed int }

func (f *fakeSource) Resume() { f.resumed++ }

func TestTryWriteSuccessPassesThrough(t *testing.T) {
	c := New(0, nil)
	sink := &fakeSink{full: false}
	src := &fakeSource{}
	require.True(t, c.TryWrite(sink, src, "x"))
	applied, lifted := c.Stats()
	require.Equal(t, int64(0), applied)
	require.Equal(t, int64(0), lifted)
}

func TestTryWriteBlocksAndUnblockResumes(t *testing.T) {
	c := New(0, nil)
	sink := &fakeSink{full: true}
	src := &fakeSource{}

	require.False(t, c.TryWrite(sink, src, "x"))
	applied, _ := c.Stats()
	require.Equal(t, int64(1), applied)
	require.Equal(t, 0, src.resumed)

	c.Unblock(sink)
	require.Equal(t, 1, src.resumed)
	_, lifted := c.Stats()
	require.Equal(t, int64(1), lifted)
}

func TestCheckStallsFiresAfterThreshold(t *testing.T) {
	var warned []time.Duration
	c := New(time.Millisecond, func(_ Source, d time.Duration) { warned = append(warned, d) })
	sink := &fakeSink{full: true}
	src := &fakeSource{}
	c.TryWrite(sink, src, "x")

	time.Sleep(2 * time.Millisecond)
	c.CheckStalls(time.Now())
	require.NotEmpty(t, warned)
}

func TestFindSeqnoLimitBoundsBurst(t *testing.T) {
	c := New(0, nil)
	c.SetFindSeqnoLimit(2)
	require.True(t, c.AllowFindSeqno())
	require.True(t, c.AllowFindSeqno())
	require.False(t, c.AllowFindSeqno())
}

func TestNoLimiterAllowsEverything(t *testing.T) {
	c := New(0, nil)
	for i := 0; i < 1000; i++ {
		require.True(t, c.AllowFindSeqno())
	}
}
