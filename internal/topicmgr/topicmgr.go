// Package topicmgr implements the per-log subscriber index: topic →
// ordered set of (copilot_sub, next_seqno).
package topicmgr

import "github.com/sevenDatabase/controltower/internal/topicuuid"

// Subscriber is one subscription entry for a topic. NextSeqno is the
// seqno this subscriber is still waiting for, used to filter which
// subscribers a given record or gap applies to. LastSeqno is the seqno
// most recently delivered to this subscriber, reported as the prev_seqno
// of the next Deliver/Gap message. TailOrigin is true until the first
// message is delivered if the subscriber originally subscribed at
// seqno 0; that first message reports prev_seqno=0 regardless of
// LastSeqno.
type Subscriber struct {
	Sub        topicuuid.CopilotSub
	NextSeqno  topicuuid.SeqNo
	LastSeqno  topicuuid.SeqNo
	TailOrigin bool
}

type topicEntry struct {
	// order is insertion order, scanned by VisitSubscribers/VisitTopics.
	order []topicuuid.CopilotSub
	byID  map[topicuuid.CopilotSub]*Subscriber
}

// Manager indexes every subscription for one log_id by topic.
type Manager struct {
	topics map[topicuuid.UUID]*topicEntry
}

// New returns an empty Manager for one log_id.
func New() *Manager {
	return &Manager{topics: make(map[topicuuid.UUID]*topicEntry)}
}

func (m *Manager) entry(topic topicuuid.UUID) *topicEntry {
	e, ok := m.topics[topic]
	if !ok {
		e = &topicEntry{byID: make(map[topicuuid.CopilotSub]*Subscriber)}
		m.topics[topic] = e
	}
	return e
}

// AddSubscriber inserts or updates a subscription. tailOrigin marks a
// subscription that started at seqno 0, so its first delivery reports
// prev_seqno=0. Returns true if this is a brand-new (topic, sub) pair,
// false if it updated an existing one — in which case the caller must
// StopReading the old subscription first.
func (m *Manager) AddSubscriber(topic topicuuid.UUID, seqno topicuuid.SeqNo, sub topicuuid.CopilotSub, tailOrigin bool) bool {
	e := m.entry(topic)
	if existing, ok := e.byID[sub]; ok {
		existing.NextSeqno = seqno
		existing.LastSeqno = seqno
		existing.TailOrigin = tailOrigin
		return false
	}
	e.byID[sub] = &Subscriber{Sub: sub, NextSeqno: seqno, LastSeqno: seqno, TailOrigin: tailOrigin}
	e.order = append(e.order, sub)
	return true
}

// RemoveSubscriber removes one subscription. Returns true if it was
// present. Drops the topic entry entirely once it has no subscribers left.
func (m *Manager) RemoveSubscriber(topic topicuuid.UUID, sub topicuuid.CopilotSub) bool {
	e, ok := m.topics[topic]
	if !ok {
		return false
	}
	if _, ok := e.byID[sub]; !ok {
		return false
	}
	delete(e.byID, sub)
	for i, s := range e.order {
		if s == sub {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if len(e.byID) == 0 {
		delete(m.topics, topic)
	}
	return true
}

// NumSubscribers reports how many subscriptions exist for topic.
func (m *Manager) NumSubscribers(topic topicuuid.UUID) int {
	e, ok := m.topics[topic]
	if !ok {
		return 0
	}
	return len(e.byID)
}

// VisitSubscribers calls fn for every subscriber of topic whose NextSeqno
// falls in [rangeLo, rangeHi]. fn may mutate the subscriber's NextSeqno in
// place; the caller is expected to advance it past the delivered record.
func (m *Manager) VisitSubscribers(topic topicuuid.UUID, rangeLo, rangeHi topicuuid.SeqNo, fn func(*Subscriber)) {
	e, ok := m.topics[topic]
	if !ok {
		return
	}
	for _, id := range e.order {
		s := e.byID[id]
		if s.NextSeqno >= rangeLo && s.NextSeqno <= rangeHi {
			fn(s)
		}
	}
}

// VisitTopics calls fn for every topic with at least one subscriber on
// this log — used when a gap must be delivered to everyone regardless of
// their individual next_seqno.
func (m *Manager) VisitTopics(fn func(topic topicuuid.UUID)) {
	for topic := range m.topics {
		fn(topic)
	}
}

// HasTopic reports whether any subscriber exists for topic.
func (m *Manager) HasTopic(topic topicuuid.UUID) bool {
	_, ok := m.topics[topic]
	return ok
}
