// Package logrouter maps a TopicUUID onto the LogID that owns it by
// hashing the namespace and name with xxhash and reducing modulo the log
// count. A Router is immutable once constructed: the log count never
// changes underneath an in-flight assignment.
package logrouter

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/sevenDatabase/controltower/internal/topicuuid"
)

// Router hashes topics onto a fixed number of logs.
type Router struct {
	numLogs uint64
}

// New returns a Router spreading topics across numLogs logs. numLogs must
// be at least 1.
func New(numLogs int) *Router {
	if numLogs < 1 {
		numLogs = 1
	}
	return &Router{numLogs: uint64(numLogs)}
}

// Route returns the LogID owning topic.
func (r *Router) Route(topic topicuuid.UUID) topicuuid.LogID {
	h := xxhash.New()
	_, _ = h.Write([]byte(strconv.FormatUint(uint64(topic.Namespace), 10)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(topic.Name))
	return topicuuid.LogID(h.Sum64() % r.numLogs)
}

// NumLogs reports how many distinct LogIDs this router can produce.
func (r *Router) NumLogs() int { return int(r.numLogs) }
