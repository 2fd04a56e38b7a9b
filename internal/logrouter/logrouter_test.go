package logrouter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevenDatabase/controltower/internal/topicuuid"
)

func TestRouteIsStableAcrossCalls(t *testing.T) {
	r := New(16)
	topic := topicuuid.New(1, "T")
	first := r.Route(topic)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, r.Route(topic))
	}
}

func TestRouteStaysInRange(t *testing.T) {
	r := New(8)
	for i := 0; i < 200; i++ {
		topic := topicuuid.New(uint16(i%5), "topic")
		log := r.Route(topic)
		require.Less(t, uint64(log), uint64(8))
	}
}

func TestDistinctTopicsCanLandOnDifferentLogs(t *testing.T) {
	r := New(4)
	seen := make(map[topicuuid.LogID]bool)
	for i := 0; i < 50; i++ {
		topic := topicuuid.New(1, string(rune('A'+i)))
		seen[r.Route(topic)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestNumLogsFloorsAtOne(t *testing.T) {
	r := New(0)
	require.Equal(t, 1, r.NumLogs())
	require.Equal(t, topicuuid.LogID(0), r.Route(topicuuid.New(1, "x")))
}
