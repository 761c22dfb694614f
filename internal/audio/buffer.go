package audio

import (
	"fmt"
	"sync"
	"time"
)

// ChunkBuffer accumulates streamed audio chunks for one websocket session
// until the client signals end of utterance. Chunks arrive strictly ordered
// over the websocket, so the buffer only needs bounds enforcement, not
// sequence reordering.
type ChunkBuffer struct {
	data       []byte
	maxBytes   int
	chunkCount int
	lastUpdate time.Time

	mu sync.Mutex
}

// ChunkBufferStats reports accumulation state for monitoring.
type ChunkBufferStats struct {
	Bytes      int       `json:"bytes"`
	Chunks     int       `json:"chunks"`
	LastUpdate time.Time `json:"last_update"`
}

// NewChunkBuffer creates a buffer capped at maxBytes (0 means unbounded).
func NewChunkBuffer(maxBytes int) *ChunkBuffer {
	return &ChunkBuffer{
		data:       make([]byte, 0, 32*1024),
		maxBytes:   maxBytes,
		lastUpdate: time.Now(),
	}
}

// Add appends one audio chunk. It fails once the configured cap would be
// exceeded so an endless stream cannot grow the session without bound.
func (b *ChunkBuffer) Add(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxBytes > 0 && len(b.data)+len(chunk) > b.maxBytes {
		return fmt.Errorf("audio stream exceeds %d byte limit", b.maxBytes)
	}

	b.data = append(b.data, chunk...)
	b.chunkCount++
	b.lastUpdate = time.Now()
	return nil
}

// Take returns the accumulated audio and resets the buffer for the next
// utterance in the same session.
func (b *ChunkBuffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := b.data
	b.data = make([]byte, 0, 32*1024)
	b.chunkCount = 0
	b.lastUpdate = time.Now()
	return data
}

// Reset discards any accumulated audio.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.chunkCount = 0
	b.lastUpdate = time.Now()
}

// Len returns the number of accumulated bytes.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Stats returns current buffer statistics.
func (b *ChunkBuffer) Stats() ChunkBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return ChunkBufferStats{
		Bytes:      len(b.data),
		Chunks:     b.chunkCount,
		LastUpdate: b.lastUpdate,
	}
}
