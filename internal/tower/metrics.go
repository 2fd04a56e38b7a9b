package tower

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the counters the Control Tower's Topic Tailer has
// always exported, one per labelled transition.
type metrics struct {
	logRecordsReceived      prometheus.Counter
	backlogRecordsReceived  prometheus.Counter
	tailRecordsReceived     prometheus.Counter
	recordsServedFromCache  prometheus.Counter
	cacheReaderBackoff      prometheus.Counter
	readerMerges            prometheus.Counter
	backpressureApplied     prometheus.Counter
	backpressureLifted      prometheus.Counter
	subscribersAdded        prometheus.Counter
	subscribersRemoved      prometheus.Counter
	staleFindSeqnoResponses prometheus.Counter
	readerRotations         prometheus.Counter

	logRecordsReceivedByLog *prometheus.CounterVec
}

// newMetrics registers every counter against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with a global
// default registry across parallel test binaries.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		logRecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_log_records_received_total",
			Help: "Records consumed from the Log Tailer.",
		}),
		backlogRecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_backlog_records_received_total",
			Help: "Records consumed that were not at the tail estimate.",
		}),
		tailRecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_tail_records_received_total",
			Help: "Records consumed that were at the tail estimate.",
		}),
		recordsServedFromCache: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_records_served_from_cache_total",
			Help: "Records delivered straight from the data cache.",
		}),
		cacheReaderBackoff: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_cache_reader_backoff_total",
			Help: "Cache drains that stopped early on sink backpressure.",
		}),
		readerMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_reader_merges_total",
			Help: "LogReader merges performed opportunistically on Tick.",
		}),
		backpressureApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_backpressure_applied_total",
			Help: "Times a source was parked on a full sink.",
		}),
		backpressureLifted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_backpressure_lifted_total",
			Help: "Times a parked source was resumed.",
		}),
		subscribersAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_subscribers_added_total",
			Help: "AddSubscriber calls that completed.",
		}),
		subscribersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_subscribers_removed_total",
			Help: "RemoveSubscriber calls that completed.",
		}),
		staleFindSeqnoResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_stale_find_seqno_responses_total",
			Help: "FindLatestSeqno responses dropped because the subscription was removed first.",
		}),
		readerRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tower_reader_rotations_total",
			Help: "Subscriptions migrated off a busy reader by the periodic rotation pass.",
		}),
		logRecordsReceivedByLog: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tower_log_records_received_by_log_total",
			Help: "Records consumed from the Log Tailer, broken out per log_id.",
		}, []string{"log_id"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.logRecordsReceived, m.backlogRecordsReceived, m.tailRecordsReceived,
			m.recordsServedFromCache, m.cacheReaderBackoff, m.readerMerges,
			m.backpressureApplied, m.backpressureLifted,
			m.subscribersAdded, m.subscribersRemoved,
			m.staleFindSeqnoResponses, m.readerRotations,
			m.logRecordsReceivedByLog,
		)
	}
	return m
}

// syncBackpressure copies flowcontrol's lifetime counters onto the
// Prometheus counters, which can only increase — called once per Tick.
func (m *metrics) syncBackpressure(applied, lifted int64, prevApplied, prevLifted *int64) {
	if d := applied - *prevApplied; d > 0 {
		m.backpressureApplied.Add(float64(d))
	}
	if d := lifted - *prevLifted; d > 0 {
		m.backpressureLifted.Add(float64(d))
	}
	*prevApplied, *prevLifted = applied, lifted
}
