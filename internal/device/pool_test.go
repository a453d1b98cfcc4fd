package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolReuse(t *testing.T) {
	p := newBufferPool()

	a := p.get(100)
	assert.Len(t, a, 100)
	a[0] = 42
	p.put(a)

	// Same bucket, must come back zeroed.
	b := p.get(100)
	assert.Len(t, b, 100)
	assert.Equal(t, byte(0), b[0])
}

func TestPoolBucketCapacity(t *testing.T) {
	p := newBufferPool()

	small := p.get(10)
	p.put(small)

	// A larger request in the same bucket must not reslice beyond the
	// parked buffer's capacity.
	bigger := p.get(16)
	assert.Len(t, bigger, 16)
	bigger[15] = 1
}

func TestPoolDrain(t *testing.T) {
	p := newBufferPool()
	p.put(p.get(64))
	p.drain()

	buf := p.get(64)
	assert.Len(t, buf, 64)
}
