package tower

import (
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
)

// subscription is the relation the TopicTailer keeps between a
// CopilotSub and the topic/log/reader it was attached to. The owning
// topicmgr.Subscriber holds the live per-subscriber delivery state; this
// struct is purely a lookup index, never the owner.
type subscription struct {
	Sub      topicuuid.CopilotSub
	Stream   topicuuid.StreamID
	Topic    topicuuid.UUID
	Log      topicuuid.LogID
	ReaderID reader.ID
}

// subscriptionMap indexes subscriptions by CopilotSub and by StreamID, so
// RemoveSubscriber can look up by either.
type subscriptionMap struct {
	bySub    map[topicuuid.CopilotSub]*subscription
	byStream map[topicuuid.StreamID]map[topicuuid.CopilotSub]struct{}
}

func newSubscriptionMap() *subscriptionMap {
	return &subscriptionMap{
		bySub:    make(map[topicuuid.CopilotSub]*subscription),
		byStream: make(map[topicuuid.StreamID]map[topicuuid.CopilotSub]struct{}),
	}
}

func (m *subscriptionMap) put(s *subscription) {
	m.bySub[s.Sub] = s
	set, ok := m.byStream[s.Stream]
	if !ok {
		set = make(map[topicuuid.CopilotSub]struct{})
		m.byStream[s.Stream] = set
	}
	set[s.Sub] = struct{}{}
}

func (m *subscriptionMap) get(sub topicuuid.CopilotSub) *subscription {
	return m.bySub[sub]
}

func (m *subscriptionMap) delete(sub topicuuid.CopilotSub) *subscription {
	s, ok := m.bySub[sub]
	if !ok {
		return nil
	}
	delete(m.bySub, sub)
	if set, ok := m.byStream[s.Stream]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(m.byStream, s.Stream)
		}
	}
	return s
}

// subsForStream returns every CopilotSub currently owned by stream, safe
// to iterate while deleting.
func (m *subscriptionMap) subsForStream(stream topicuuid.StreamID) []topicuuid.CopilotSub {
	set, ok := m.byStream[stream]
	if !ok {
		return nil
	}
	out := make([]topicuuid.CopilotSub, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}
