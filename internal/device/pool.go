package device

import (
	"math"
	"sync"
)

// bufferPool parks released host allocations in power-of-two buckets so
// repeated runs on one backend reuse memory instead of reallocating.
type bufferPool struct {
	mu      sync.Mutex
	buckets map[int][][]byte
}

func newBufferPool() *bufferPool {
	return &bufferPool{buckets: make(map[int][][]byte)}
}

// bucketFor maps a byte size to its pool bucket (ceil log2).
func bucketFor(size int) int {
	if size <= 0 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(size))))
}

// get returns a zeroed slice of exactly size bytes, reusing a parked
// allocation when one fits.
func (p *bufferPool) get(size int) []byte {
	bucket := bucketFor(size)

	p.mu.Lock()
	entries := p.buckets[bucket]
	if n := len(entries); n > 0 && cap(entries[n-1]) >= size {
		buf := entries[len(entries)-1]
		p.buckets[bucket] = entries[:len(entries)-1]
		p.mu.Unlock()

		poolHits.Inc()
		poolSizeBytes.Sub(float64(cap(buf)))
		buf = buf[:size]
		for i := range buf {
			buf[i] = 0
		}
		return buf
	}
	p.mu.Unlock()

	poolMisses.Inc()
	capacity := 1
	if bucket > 0 {
		capacity = 1 << bucket
	}
	return make([]byte, size, capacity)
}

// put parks a slice for reuse.
func (p *bufferPool) put(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	bucket := bucketFor(cap(buf))

	p.mu.Lock()
	p.buckets[bucket] = append(p.buckets[bucket], buf[:0])
	p.mu.Unlock()

	poolSizeBytes.Add(float64(cap(buf)))
}

// drain drops every parked allocation.
func (p *bufferPool) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for bucket, entries := range p.buckets {
		for _, buf := range entries {
			poolSizeBytes.Sub(float64(cap(buf)))
		}
		delete(p.buckets, bucket)
	}
}
