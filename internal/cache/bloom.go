package cache

import (
	"hash/fnv"

	"github.com/sevenDatabase/controltower/internal/topicuuid"
)

// bloom is a small fixed-size Bloom filter over the TopicUUIDs present in
// one cache block, used to skip blocks that cannot contain a given topic
// without scanning their records. See DESIGN.md for why this is
// hand-rolled rather than imported.
type bloom struct {
	bits []uint64
	k    int // number of hash probes
	m    uint64
}

// newBloom sizes a filter for expectedItems entries at bitsPerItem density.
func newBloom(expectedItems, bitsPerItem int) *bloom {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if bitsPerItem < 1 {
		bitsPerItem = 10
	}
	m := uint64(expectedItems * bitsPerItem)
	if m < 64 {
		m = 64
	}
	words := (m + 63) / 64
	k := bitsPerItem * 69 / 100 // ln(2) ≈ 0.693; k ≈ bitsPerItem*ln(2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &bloom{bits: make([]uint64, words), k: k, m: words * 64}
}

func (b *bloom) hashes(topic topicuuid.UUID) (h1, h2 uint64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte{byte(topic.Namespace), byte(topic.Namespace >> 8)})
	_, _ = hasher.Write([]byte(topic.Name))
	h1 = hasher.Sum64()
	hasher2 := fnv.New64()
	_, _ = hasher2.Write([]byte{byte(topic.Namespace), byte(topic.Namespace >> 8)})
	_, _ = hasher2.Write([]byte(topic.Name))
	h2 = hasher2.Sum64()
	return
}

func (b *bloom) add(topic topicuuid.UUID) {
	h1, h2 := b.hashes(topic)
	for i := 0; i < b.k; i++ {
		idx := (h1 + uint64(i)*h2) % b.m
		b.bits[idx/64] |= 1 << (idx % 64)
	}
}

// mightContain reports whether topic could be in the set. False positives
// are possible; false negatives are not.
func (b *bloom) mightContain(topic topicuuid.UUID) bool {
	h1, h2 := b.hashes(topic)
	for i := 0; i < b.k; i++ {
		idx := (h1 + uint64(i)*h2) % b.m
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}
