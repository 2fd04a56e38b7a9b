// Package cache implements a fixed-budget, in-memory ring of
// recently-tailed records keyed by (log_id, seqno), with per-block bloom
// filters over TopicUUIDs and byte-budgeted LRU eviction across sealed
// blocks.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/sevenDatabase/controltower/internal/topicuuid"
)

// Record is one cached (log_id, seqno) entry.
type Record struct {
	Seqno   topicuuid.SeqNo
	Topic   topicuuid.UUID
	Payload []byte
}

type block struct {
	log     topicuuid.LogID
	index   int
	records []Record
	filter  *bloom
	bytes   int
	sealed  bool
}

// ReadOutcome classifies the result of a Read call.
type ReadOutcome int

const (
	// NoneRead: no applicable cache contents for this (log, topic, range).
	NoneRead ReadOutcome = iota
	// ReadContinue: everything available was delivered; the caller should
	// subscribe to the log at a higher seqno.
	ReadContinue
	// ReadBackoff: the sink applied backpressure; the caller must retry.
	ReadBackoff
)

// Sink receives cached records one at a time. It returns false to signal
// backpressure — the caller must stop iterating and retry later, mirroring
// the source/sink contract in internal/flowcontrol.
type Sink func(Record) bool

// Config holds the cache's tunables.
type Config struct {
	ByteBudget                    int64
	BlockSize                     int
	BloomBitsPerMsg               int
	CacheDataFromSystemNamespaces bool
}

// systemNamespaceThreshold marks namespaces below this value as reserved
// for internal control topics, which are excluded from caching unless
// CacheDataFromSystemNamespaces is set.
const systemNamespaceThreshold = 100

// Cache is safe for concurrent use, but in practice is touched only from
// the owning room's worker goroutine; the mutex exists so tests and the
// optional Redis mirror (internal/cache/mirror.go) can observe it without
// racing the room.
type Cache struct {
	mu     sync.Mutex
	cfg    Config
	blocks map[topicuuid.LogID][]*block
	open   map[topicuuid.LogID]*block
	nextIx map[topicuuid.LogID]int

	usedBytes int64
	lru       *list.List
	lruElem   map[*block]*list.Element

	mirror *Mirror
}

// New returns a Cache governed by cfg. A zero ByteBudget disables caching
// entirely: Put and Read become no-ops.
func New(cfg Config) *Cache {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1024
	}
	if cfg.BloomBitsPerMsg <= 0 {
		cfg.BloomBitsPerMsg = 10
	}
	return &Cache{
		cfg:     cfg,
		blocks:  make(map[topicuuid.LogID][]*block),
		open:    make(map[topicuuid.LogID]*block),
		nextIx:  make(map[topicuuid.LogID]int),
		lru:     list.New(),
		lruElem: make(map[*block]*list.Element),
	}
}

// SetMirror attaches an optional out-of-process mirror that gets notified
// every time a block seals. Pass nil to disable; safe to call any time.
func (c *Cache) SetMirror(m *Mirror) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = m
}

// Enabled reports whether caching is active at all.
func (c *Cache) Enabled() bool { return c.cfg.ByteBudget > 0 }

func (c *Cache) suppressed(topic topicuuid.UUID) bool {
	return !c.cfg.CacheDataFromSystemNamespaces && topic.Namespace < systemNamespaceThreshold
}

// Put appends a record to the currently open block for log, sealing and
// evicting as needed to respect the byte budget.
func (c *Cache) Put(log topicuuid.LogID, seqno topicuuid.SeqNo, topic topicuuid.UUID, payload []byte) {
	if !c.Enabled() || c.suppressed(topic) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.open[log]
	if b == nil {
		b = c.newBlock(log)
	}
	rec := Record{Seqno: seqno, Topic: topic, Payload: payload}
	b.records = append(b.records, rec)
	b.filter.add(topic)
	b.bytes += len(payload) + 24
	c.usedBytes += int64(len(payload) + 24)

	if len(b.records) >= c.cfg.BlockSize {
		c.sealBlock(log, b)
	}
	c.evictIfNeeded()
}

func (c *Cache) newBlock(log topicuuid.LogID) *block {
	ix := c.nextIx[log]
	c.nextIx[log] = ix + 1
	b := &block{log: log, index: ix, filter: newBloom(c.cfg.BlockSize, c.cfg.BloomBitsPerMsg)}
	c.open[log] = b
	c.blocks[log] = append(c.blocks[log], b)
	return b
}

func (c *Cache) sealBlock(log topicuuid.LogID, b *block) {
	b.sealed = true
	delete(c.open, log)
	c.lruElem[b] = c.lru.PushBack(b)
	if c.mirror != nil {
		go c.mirror.ReportSeal(context.Background(), uint64(log), b.index, len(b.records), b.bytes)
	}
}

func (c *Cache) evictIfNeeded() {
	for c.usedBytes > c.cfg.ByteBudget && c.lru.Len() > 0 {
		front := c.lru.Front()
		b := front.Value.(*block)
		c.lru.Remove(front)
		delete(c.lruElem, b)
		c.usedBytes -= int64(b.bytes)

		list := c.blocks[b.log]
		for i, candidate := range list {
			if candidate == b {
				c.blocks[b.log] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(c.blocks[b.log]) == 0 {
			delete(c.blocks, b.log)
		}
	}
}

// Read streams every cached record for topic in [from, to] on log into
// sink, oldest first, skipping whole blocks whose bloom filter rules the
// topic out. It stops and returns ReadBackoff the moment sink returns
// false.
func (c *Cache) Read(log topicuuid.LogID, topic topicuuid.UUID, from, to topicuuid.SeqNo, sink Sink) ReadOutcome {
	if !c.Enabled() {
		return NoneRead
	}
	c.mu.Lock()
	blocksCopy := append([]*block(nil), c.blocks[log]...)
	open := c.open[log]
	c.mu.Unlock()
	if open != nil {
		blocksCopy = append(blocksCopy, open)
	}

	delivered := false
	for _, b := range blocksCopy {
		if !b.filter.mightContain(topic) {
			continue
		}
		for _, rec := range b.records {
			if rec.Topic != topic || rec.Seqno < from || rec.Seqno > to {
				continue
			}
			if !sink(rec) {
				return ReadBackoff
			}
			delivered = true
			// Touch this block's position in LRU order to reflect recent
			// access.
			c.touch(b)
		}
	}
	if !delivered {
		return NoneRead
	}
	return ReadContinue
}

func (c *Cache) touch(b *block) {
	if !b.sealed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.lruElem[b]; ok {
		c.lru.MoveToBack(el)
	}
}

// UsedBytes reports current cache occupancy, for metrics.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
