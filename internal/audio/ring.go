package audio

import "sync"

// Ring is a fixed-capacity circular buffer of float32 samples. Writers and
// the device callback may run on different threads.
type Ring struct {
	mu       sync.Mutex
	buffer   []float32
	size     int
	writePos int
	readPos  int
	count    int
	space    chan struct{}
}

// NewRing creates a ring holding up to size samples.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{
		buffer: make([]float32, size),
		size:   size,
		space:  make(chan struct{}, 1),
	}
}

// Write copies as many samples as fit and returns how many were taken.
func (r *Ring) Write(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(data) && r.count < r.size {
		r.buffer[r.writePos] = data[n]
		r.writePos = (r.writePos + 1) % r.size
		r.count++
		n++
	}
	return n
}

// Read fills dst from the buffer and zero-fills whatever is missing. It
// returns the number of real samples copied.
func (r *Ring) Read(dst []float32) int {
	r.mu.Lock()
	n := 0
	for n < len(dst) && r.count > 0 {
		dst[n] = r.buffer[r.readPos]
		r.readPos = (r.readPos + 1) % r.size
		r.count--
		n++
	}
	r.mu.Unlock()

	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	if n > 0 {
		select {
		case r.space <- struct{}{}:
		default:
		}
	}
	return n
}

// Space is signalled after a read frees capacity.
func (r *Ring) Space() <-chan struct{} {
	return r.space
}

// Available returns the number of buffered samples.
func (r *Ring) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Free returns the remaining capacity.
func (r *Ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size - r.count
}

// Reset discards buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.readPos, r.writePos, r.count = 0, 0, 0
	r.mu.Unlock()
	select {
	case r.space <- struct{}{}:
	default:
	}
}

func (r *Ring) Size() int { return r.size }
