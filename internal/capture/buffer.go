package capture

import "sync"

// BufferPair is a double buffer of normalized samples. One slot is exposed for
// reading while producers fill the other; Swap exchanges the roles.
//
// Two locks are involved. wmu serializes producers and is never taken by
// readers. mu guards the role index and is held by readers only for the copy
// out of the read slot, and by Swap only for the index flip. A producer holding
// wmu can fill the write slot without mu because the role index only changes
// under wmu, so the slot it fills is never the one readers copy from.
type BufferPair struct {
	wmu sync.Mutex

	mu    sync.Mutex
	slots [2][]float32
	read  int
	gen   uint64
}

// NewBufferPair allocates two zero-filled slots of size frames.
func NewBufferPair(size int) *BufferPair {
	p := &BufferPair{}
	p.slots[0] = make([]float32, size)
	p.slots[1] = make([]float32, size)
	return p
}

// Len returns the current slot length.
func (p *BufferPair) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots[p.read])
}

// Generation counts completed swaps.
func (p *BufferPair) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Publish hands fill exclusive access to the write slot, then swaps it in for
// reading. fill must not retain the slice.
func (p *BufferPair) Publish(fill func(w []float32)) {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	fill(p.slots[1-p.read])
	p.swapLocked()
}

// Swap exchanges the read and write roles.
func (p *BufferPair) Swap() {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.swapLocked()
}

// swapLocked requires wmu.
func (p *BufferPair) swapLocked() {
	p.mu.Lock()
	p.read = 1 - p.read
	p.gen++
	p.mu.Unlock()
}

// Clear publishes an all-silence chunk.
func (p *BufferPair) Clear() {
	p.Publish(func(w []float32) {
		clear(w)
	})
}

// LoadChunk normalizes up to count signed 16-bit samples into the write slot
// and publishes it. count is clamped to [1, Len()] like ReadChunk; frames past
// it, or past the end of samples, are zeroed.
func (p *BufferPair) LoadChunk(samples []int16, count int) {
	p.Publish(func(w []float32) {
		n := min(clampCount(count, len(w)), len(samples))
		for i := 0; i < n; i++ {
			w[i] = float32(samples[i]) / fullScale16
		}
		clear(w[n:])
	})
}

// ReadChunk copies up to count frames of the read slot into out and returns the
// number copied. count is clamped to [1, Len()] and to len(out).
func (p *BufferPair) ReadChunk(out []float32, count int) int {
	n, _ := p.ReadChunkSeq(out, count)
	return n
}

// ReadChunkSeq is ReadChunk that also reports the generation the frames belong to.
func (p *BufferPair) ReadChunkSeq(out []float32, count int) (int, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rb := p.slots[p.read]
	n := min(clampCount(count, len(rb)), len(out))
	copy(out[:n], rb[:n])
	return n, p.gen
}

// ReadChunk64 is ReadChunk widening samples to float64.
func (p *BufferPair) ReadChunk64(out []float64, count int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	rb := p.slots[p.read]
	n := min(clampCount(count, len(rb)), len(out))
	for i := 0; i < n; i++ {
		out[i] = float64(rb[i])
	}
	return n
}

// Resize reallocates both slots to size frames, zero-filled, and resets the
// role assignment, counting as a generation. Callers must ensure no producer is running.
func (p *BufferPair) Resize(size int) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots[0] = make([]float32, size)
	p.slots[1] = make([]float32, size)
	p.read = 0
	p.gen++
}

func clampCount(count, size int) int {
	if size == 0 {
		return 0
	}
	return max(1, min(count, size))
}
