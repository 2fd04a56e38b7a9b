// Package flowcontrol implements source/sink backpressure: every sink's
// Write returns accepted/full, and on full the source is parked until the
// sink signals readiness. A source that stays blocked past a configured
// threshold is reported through onWarn so the caller can log it.
package flowcontrol

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sink is anything that can refuse writes under load.
type Sink interface {
	// Write attempts to deliver item. It returns true if accepted, false
	// if the sink is full — in which case the caller must stop sending
	// and wait for a readiness notification via Controller.Park.
	Write(item interface{}) bool
}

// Source is a unit of upstream work that can be paused and resumed — a
// Log Tailer reader, a cache drain, a pending-subscription retry.
type Source interface {
	// Resume is invoked once the sink that blocked this source reports
	// capacity again.
	Resume()
}

// Controller tracks which sources are blocked on which sinks and counts
// backpressure applied/lifted transitions for metrics reporting.
type Controller struct {
	mu      sync.Mutex
	blocked map[Sink][]Source

	limiter *rate.Limiter // bounds FindLatestSeqno issuance (max_find_time_requests)

	appliedTotal atomic.Int64
	liftedTotal  atomic.Int64

	warnAfter time.Duration
	blockedAt map[Source]time.Time
	onWarn    func(Source, time.Duration)
}

// New returns a Controller. warnAfter is the duration a source may remain
// blocked before onWarn fires; pass 0 to disable the warning.
func New(warnAfter time.Duration, onWarn func(Source, time.Duration)) *Controller {
	return &Controller{
		blocked:   make(map[Sink][]Source),
		blockedAt: make(map[Source]time.Time),
		warnAfter: warnAfter,
		onWarn:    onWarn,
	}
}

// SetFindSeqnoLimit paces FindLatestSeqno issuance with a token bucket: n
// per second, with a burst of n.
func (c *Controller) SetFindSeqnoLimit(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = rate.NewLimiter(rate.Limit(n), n)
}

// AllowFindSeqno reports whether another FindLatestSeqno may be issued
// right now under the configured rate. It limits how often calls are
// issued; it does not count calls still awaiting a response.
func (c *Controller) AllowFindSeqno() bool {
	c.mu.Lock()
	l := c.limiter
	c.mu.Unlock()
	if l == nil {
		return true
	}
	return l.Allow()
}

// TryWrite writes item to sink. On success it returns true. On failure it
// registers source as blocked on sink and returns false; the caller must
// stop producing for source until Unblock(sink) calls source.Resume().
func (c *Controller) TryWrite(sink Sink, source Source, item interface{}) bool {
	if sink.Write(item) {
		return true
	}
	c.mu.Lock()
	if _, already := c.blockedAt[source]; !already {
		c.appliedTotal.Add(1)
		c.blockedAt[source] = time.Now()
	}
	c.blocked[sink] = append(c.blocked[sink], source)
	c.mu.Unlock()
	return false
}

// Unblock notifies every source parked on sink that it may resume, in FIFO
// order, and clears the registry for that sink.
func (c *Controller) Unblock(sink Sink) {
	c.mu.Lock()
	sources := c.blocked[sink]
	delete(c.blocked, sink)
	for _, s := range sources {
		if _, ok := c.blockedAt[s]; ok {
			c.liftedTotal.Add(1)
			delete(c.blockedAt, s)
		}
	}
	c.mu.Unlock()
	for _, s := range sources {
		s.Resume()
	}
}

// CheckStalls scans every currently blocked source and invokes onWarn for
// any blocked longer than warnAfter. Intended to be called once per Tick.
func (c *Controller) CheckStalls(now time.Time) {
	if c.warnAfter <= 0 || c.onWarn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for s, since := range c.blockedAt {
		if now.Sub(since) >= c.warnAfter {
			c.onWarn(s, now.Sub(since))
		}
	}
}

// Stats returns lifetime applied/lifted counters.
func (c *Controller) Stats() (applied, lifted int64) {
	return c.appliedTotal.Load(), c.liftedTotal.Load()
}
