package server

import (
	"log/slog"

	"github.com/sevenDatabase/controltower/internal/logging"
	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/tower"
	"github.com/sevenDatabase/controltower/internal/wire"
)

// logSink is the reference ClientSink: it never applies backpressure and
// logs every delivery under the "delivery" verbose tag, since the
// network-facing client protocol is out of scope for this module.
type logSink struct{}

func (logSink) SendDeliver(sub topicuuid.CopilotSub, msg wire.Deliver) bool {
	logging.VInfo("delivery", "deliver",
		slog.Uint64("sub", uint64(sub)), slog.String("topic", msg.Topic),
		slog.Uint64("prev", msg.SeqPrev), slog.Uint64("seq", msg.Seq))
	return true
}

func (logSink) SendGap(sub topicuuid.CopilotSub, msg wire.Gap) bool {
	logging.VInfo("delivery", "gap",
		slog.Uint64("sub", uint64(sub)), slog.Int("type", int(msg.Type)),
		slog.Uint64("from", msg.From), slog.Uint64("to", msg.To))
	return true
}

// roomSink adapts a *tower.Room to logtailer.Sink. room is bound after
// the Room is constructed, breaking the construction cycle between a
// Room (which needs a Tailer) and a FileTailer (which needs a Sink).
type roomSink struct {
	room *tower.Room
}

func (s *roomSink) SendLogRecord(log topicuuid.LogID, seqno topicuuid.SeqNo, topic topicuuid.UUID, payload []byte, rdr reader.ID) {
	s.room.SendLogRecord(log, seqno, topic, payload, rdr)
}

func (s *roomSink) SendGapRecord(log topicuuid.LogID, gapType wire.GapType, from, to topicuuid.SeqNo, rdr reader.ID) {
	s.room.SendGapRecord(log, gapType, from, to, rdr)
}
