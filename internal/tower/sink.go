package tower

import (
	"github.com/sevenDatabase/controltower/internal/flowcontrol"
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/wire"
)

// ClientSink is the client I/O layer the room hands delivered messages to.
// Both methods return false to signal backpressure; the caller must stop
// producing for the associated source until told to resume.
type ClientSink interface {
	SendDeliver(sub topicuuid.CopilotSub, msg wire.Deliver) bool
	SendGap(sub topicuuid.CopilotSub, msg wire.Gap) bool
}

// deliverItem and gapItem are the two shapes the queued-retry path can
// hold for a source blocked on ClientSink.
type deliverItem struct {
	sub topicuuid.CopilotSub
	msg wire.Deliver
}

type gapItem struct {
	sub topicuuid.CopilotSub
	msg wire.Gap
}

// readerSource is the flowcontrol.Source for one reader's delivery
// stream. When ClientSink reports full, items queue here; Resume (called
// once the client I/O layer reports capacity) replays them in order.
type readerSource struct {
	id      reader.ID
	tower   *TopicTailer
	pending []func() bool // each replays one queued item through the sink
}

func (s *readerSource) Resume() {
	remaining := s.pending[:0]
	for _, replay := range s.pending {
		if !replay() {
			remaining = append(remaining, replay)
		}
	}
	s.pending = remaining
	if len(s.pending) > 0 {
		s.tower.flow.Unblock(s.clientSink())
	}
}

func (s *readerSource) clientSink() flowcontrol.Sink { return clientSinkAdapter{s.tower.sink} }

// clientSinkAdapter adapts ClientSink's two typed methods to the single
// flowcontrol.Sink.Write signature, dispatching on the item's concrete
// type.
type clientSinkAdapter struct {
	sink ClientSink
}

func (a clientSinkAdapter) Write(item interface{}) bool {
	switch v := item.(type) {
	case deliverItem:
		return a.sink.SendDeliver(v.sub, v.msg)
	case gapItem:
		return a.sink.SendGap(v.sub, v.msg)
	default:
		return true
	}
}
