package catalog

import (
	"fmt"
	"sync"
)

// Chunk is one independently generated unit of narrated audio covering a
// contiguous span of chapter text. Immutable once appended.
type Chunk struct {
	ID            string
	Index         int
	StartPosition int
	EndPosition   int
	AudioDuration float64 // seconds, authoritative for chapter time math
	AudioSize     int64   // bytes, informational
	VoiceID       string
}

// Catalog is the ordered set of chunks known for one chapter. It only ever
// grows: new chunks may be appended while earlier ones are already playing,
// and indices must stay a gap-free prefix starting at 0.
type Catalog struct {
	mu      sync.RWMutex
	chunks  []Chunk
	version uint64
	updates chan struct{}
}

func New() *Catalog {
	return &Catalog{
		updates: make(chan struct{}, 1),
	}
}

// Append adds the next chunk. The index must equal the current length,
// otherwise the catalog would contain a hole.
func (c *Catalog) Append(chunk Chunk) error {
	c.mu.Lock()
	if chunk.Index != len(c.chunks) {
		have := len(c.chunks)
		c.mu.Unlock()
		return fmt.Errorf("catalog: non-contiguous chunk index %d, want %d", chunk.Index, have)
	}
	if chunk.AudioDuration < 0 {
		c.mu.Unlock()
		return fmt.Errorf("catalog: chunk %d has negative duration %f", chunk.Index, chunk.AudioDuration)
	}
	c.chunks = append(c.chunks, chunk)
	c.version++
	c.mu.Unlock()

	// Coalesced growth signal, never blocks the appender.
	select {
	case c.updates <- struct{}{}:
	default:
	}
	return nil
}

// Updates signals after every successful Append. Signals are coalesced;
// consumers must re-check Len after each receive.
func (c *Catalog) Updates() <-chan struct{} {
	return c.updates
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Catalog) Chunk(index int) (Chunk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.chunks) {
		return Chunk{}, false
	}
	return c.chunks[index], true
}

// ByID resolves a chunk id to its descriptor, for resume points.
func (c *Catalog) ByID(id string) (Chunk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, chunk := range c.chunks {
		if chunk.ID == id {
			return chunk, true
		}
	}
	return Chunk{}, false
}

// StartOf returns the chapter time at which chunk index begins, the sum of
// all durations before it.
func (c *Catalog) StartOf(index int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index > len(c.chunks) {
		index = len(c.chunks)
	}
	var sum float64
	for i := 0; i < index; i++ {
		sum += c.chunks[i].AudioDuration
	}
	return sum
}

func (c *Catalog) TotalDuration() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sum float64
	for _, chunk := range c.chunks {
		sum += chunk.AudioDuration
	}
	return sum
}

// LocateTime resolves a chapter-relative time to (chunk index, offset within
// that chunk). Negative times clamp to the first chunk at offset 0, times
// past the chapter end clamp to the last chunk at its full duration.
func (c *Catalog) LocateTime(chapterTime float64) (int, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.chunks) == 0 || chapterTime <= 0 {
		return 0, 0
	}
	var start float64
	for i, chunk := range c.chunks {
		if chapterTime < start+chunk.AudioDuration {
			return i, chapterTime - start
		}
		start += chunk.AudioDuration
	}
	last := len(c.chunks) - 1
	return last, c.chunks[last].AudioDuration
}
