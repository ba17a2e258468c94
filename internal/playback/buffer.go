// Package playback holds the bounded audio queue shared between the capture
// goroutine and the real-time output callback, and the sinks that drain it.
package playback

import "sync"

const (
	// DefaultCapacity is the number of chunk slots in a Buffer.
	DefaultCapacity = 20
	// ChunkSize is the number of samples per chunk.
	ChunkSize = 1024
)

// Stats reports buffer counters since construction or the last Reset.
type Stats struct {
	Pushed    uint64
	Dropped   uint64
	Underruns uint64
	Depth     int
	Capacity  int
}

// Buffer is a fixed-capacity ring of audio chunks backed by one arena.
// Pushing into a full buffer evicts the oldest chunk. Pulling from an empty
// buffer yields silence. Neither side ever blocks beyond the mutex, and no
// allocation happens under it.
type Buffer struct {
	mu        sync.Mutex
	arena     []float32
	lens      []int
	slot      int
	head      int
	count     int
	cursor    int
	pushed    uint64
	dropped   uint64
	underruns uint64
}

// NewBuffer allocates a buffer of capacity slots, each holding up to
// chunkSize samples. Non-positive arguments select the defaults.
func NewBuffer(capacity, chunkSize int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	return &Buffer{
		arena: make([]float32, capacity*chunkSize),
		lens:  make([]int, capacity),
		slot:  chunkSize,
	}
}

// Push copies chunk into the tail slot. Input longer than one slot is split
// across consecutive slots.
func (b *Buffer) Push(chunk []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(chunk) > 0 {
		n := min(len(chunk), b.slot)
		b.pushSlot(chunk[:n])
		chunk = chunk[n:]
	}
}

func (b *Buffer) pushSlot(chunk []float32) {
	capacity := len(b.lens)
	if b.count == capacity {
		b.head = (b.head + 1) % capacity
		b.count--
		b.cursor = 0
		b.dropped++
	}
	tail := (b.head + b.count) % capacity
	copy(b.arena[tail*b.slot:], chunk)
	b.lens[tail] = len(chunk)
	b.count++
	b.pushed++
}

// Pull returns frameCount samples from the head chunk.
func (b *Buffer) Pull(frameCount int) []float32 {
	out := make([]float32, frameCount)
	b.PullInto(out)
	return out
}

// PullInto fills out from the head chunk and reports whether any buffered
// audio was used. An empty buffer fills out with silence. A head chunk
// shorter than out is zero-padded; samples beyond len(out) stay at the head
// for the next pull. A single pull never spans two chunks.
func (b *Buffer) PullInto(out []float32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		clear(out)
		b.underruns++
		return false
	}

	start := b.head*b.slot + b.cursor
	remaining := b.lens[b.head] - b.cursor
	n := copy(out, b.arena[start:start+remaining])
	clear(out[n:])

	if n < remaining {
		b.cursor += n
		return true
	}
	b.head = (b.head + 1) % len(b.lens)
	b.count--
	b.cursor = 0
	return true
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the slot count.
func (b *Buffer) Cap() int { return len(b.lens) }

// ChunkSize returns the slot size in samples.
func (b *Buffer) ChunkSize() int { return b.slot }

// Stats snapshots the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pushed:    b.pushed,
		Dropped:   b.dropped,
		Underruns: b.underruns,
		Depth:     b.count,
		Capacity:  len(b.lens),
	}
}

// Reset discards buffered audio and zeroes the counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.count, b.cursor = 0, 0, 0
	b.pushed, b.dropped, b.underruns = 0, 0, 0
}
