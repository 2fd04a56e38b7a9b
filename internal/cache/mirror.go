package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror publishes block-sealed metadata (log_id, block index, record
// count) to Redis so an operator can inspect cache occupancy from outside
// the process. It never backs reads — Cache.Read always serves from the
// in-memory blocks — so a Mirror outage degrades observability only,
// never correctness.
type Mirror struct {
	rdb    *redis.Client
	prefix string
}

// NewMirror connects to addr. Pass an empty addr to disable mirroring.
func NewMirror(addr, prefix string) *Mirror {
	if addr == "" {
		return nil
	}
	return &Mirror{rdb: redis.NewClient(&redis.Options{Addr: addr}), prefix: prefix}
}

// ReportSeal records that block index of log now holds count records and
// occupies bytes bytes, with a short TTL so stale entries self-clean if
// the process restarts without the same blocks.
func (m *Mirror) ReportSeal(ctx context.Context, logID uint64, blockIndex, count, bytes int) error {
	if m == nil {
		return nil
	}
	key := m.prefix + ":block:" + strconv.FormatUint(logID, 10) + ":" + strconv.Itoa(blockIndex)
	val := strconv.Itoa(count) + "," + strconv.Itoa(bytes)
	return m.rdb.Set(ctx, key, val, 10*time.Minute).Err()
}

// Close releases the underlying Redis connection pool.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.rdb.Close()
}
