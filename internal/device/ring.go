package device

import (
	"sync"
)

// RingBuffer is the per-channel inbound buffer filled by the UART reader and
// drained by polls. Capacity is a power of two; when full the oldest bytes are
// overwritten, so a slow poller loses history rather than blocking the UART.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int // next write position
	size    int
	dropped uint64
}

// NewRingBuffer rounds capacity up to the next power of two (minimum 16).
func NewRingBuffer(capacity int) *RingBuffer {
	n := 16
	for n < capacity {
		n <<= 1
	}
	return &RingBuffer{buf: make([]byte, n)}
}

// Cap returns the buffer capacity in bytes.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Write appends p and returns how many older bytes were overwritten.
func (r *RingBuffer) Write(p []byte) (overwritten int) {
	if len(p) == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mask := len(r.buf) - 1
	// Only the tail of an oversized write can survive.
	if len(p) > len(r.buf) {
		overwritten += len(p) - len(r.buf)
		p = p[len(p)-len(r.buf):]
	}
	for _, b := range p {
		r.buf[r.head] = b
		r.head = (r.head + 1) & mask
		if r.size == len(r.buf) {
			overwritten++
		} else {
			r.size++
		}
	}
	r.dropped += uint64(overwritten)
	return overwritten
}

// Drain removes and returns up to max bytes in arrival order. max <= 0 drains
// everything.
func (r *RingBuffer) Drain(max int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	mask := len(r.buf) - 1
	tail := (r.head - r.size) & mask
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(tail+i)&mask]
	}
	r.size -= n
	return out
}

// Reset discards all buffered bytes.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	r.head, r.size = 0, 0
	r.mu.Unlock()
}

// Dropped returns the total number of bytes lost to overflow.
func (r *RingBuffer) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
