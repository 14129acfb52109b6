package pools

import (
	"sync"
)

// Buffer size classes, chosen around record and erase-unit sizes.
const (
	HeaderSize = 64    // record headers and short keys
	SmallSize  = 512   // typical small blobs
	UnitSize   = 4096  // one erase unit of common NOR parts
	LargeSize  = 16384 // unit images on larger parts
	HugeSize   = 65536 // largest pooled class
)

// MaxPool is the largest capacity kept for reuse.
const MaxPool = HugeSize

// BytePool provides size-class based pooling for byte slices.
type BytePool struct {
	classes [5]sync.Pool
}

var classSizes = [5]int{HeaderSize, SmallSize, UnitSize, LargeSize, HugeSize}

// NewBytePool creates a new byte pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := classSizes[i]
		p.classes[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range classSizes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a byte slice with length 0 and at least the requested capacity.
func (p *BytePool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, 0, size)
	}
	bp, ok := p.classes[i].Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

// GetSized returns a byte slice with exactly the requested length.
func (p *BytePool) GetSized(size int) []byte {
	return p.Get(size)[:size]
}

// Put returns a byte slice to the pool. Oversized slices are dropped.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c == 0 || c > MaxPool {
		return
	}
	// A slice is filed under the largest class it can fully serve.
	i := classFor(c)
	if classSizes[i] > c {
		i--
	}
	if i < 0 {
		return
	}
	b = b[:0]
	p.classes[i].Put(&b)
}

var defaultBytePool = NewBytePool()

// GetBytes returns a byte slice from the default pool.
func GetBytes(size int) []byte {
	return defaultBytePool.Get(size)
}

// GetBytesSized returns a byte slice with exact length from the default pool.
func GetBytesSized(size int) []byte {
	return defaultBytePool.GetSized(size)
}

// PutBytes returns a byte slice to the default pool.
func PutBytes(b []byte) {
	defaultBytePool.Put(b)
}
