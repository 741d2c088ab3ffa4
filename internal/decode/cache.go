package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"aloud/internal/catalog"
)

var (
	// ErrChunkNotFound reports an index with no catalog entry.
	ErrChunkNotFound = errors.New("chunk not found in catalog")
	// ErrFetch reports a network/HTTP failure retrieving raw audio.
	ErrFetch = errors.New("audio fetch failed")
	// ErrDecode reports a malformed or unsupported audio payload.
	ErrDecode = errors.New("audio decode failed")
)

// entry is the single-flight slot for one chunk index. The first caller
// fills it, everyone else waits on done.
type entry struct {
	done chan struct{}
	buf  *beep.Buffer
	err  error
}

// Cache memoizes fetch+decode per chunk index. At most one fetch+decode is
// in flight per index; concurrent callers for the same index share its
// result. Successful decodes are kept for the life of the chapter, failures
// are dropped so a retry re-attempts the work.
type Cache struct {
	mu      sync.Mutex
	entries map[int]*entry

	cat    *catalog.Catalog
	fetch  Fetcher
	format beep.Format
}

// NewCache builds a cache that decodes into format, the scheduler's output
// format. Chunks arriving at a different sample rate are resampled during
// decode so every buffer is directly schedulable.
func NewCache(cat *catalog.Catalog, fetch Fetcher, format beep.Format) *Cache {
	return &Cache{
		entries: make(map[int]*entry),
		cat:     cat,
		fetch:   fetch,
		format:  format,
	}
}

// FetchDecoded returns the decoded buffer for a chunk index, fetching and
// decoding it on first use.
func (c *Cache) FetchDecoded(ctx context.Context, index int) (*beep.Buffer, error) {
	chunk, ok := c.cat.Chunk(index)
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrChunkNotFound, index)
	}

	c.mu.Lock()
	if e, ok := c.entries[index]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.buf, nil
	}
	e := &entry{done: make(chan struct{})}
	c.entries[index] = e
	c.mu.Unlock()

	buf, err := c.fetchAndDecode(ctx, chunk)

	c.mu.Lock()
	if err != nil {
		// Insert on success only; the next caller starts over. Guard
		// against a Purge that replaced the map while we were fetching.
		if cur, ok := c.entries[index]; ok && cur == e {
			delete(c.entries, index)
		}
		e.err = err
	} else {
		e.buf = buf
	}
	c.mu.Unlock()
	close(e.done)

	return buf, err
}

func (c *Cache) fetchAndDecode(ctx context.Context, chunk catalog.Chunk) (*beep.Buffer, error) {
	raw, err := c.fetch.FetchAudio(ctx, chunk.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrFetch, chunk.ID, err)
	}

	streamer, format, err := wav.Decode(io.NopCloser(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrDecode, chunk.ID, err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != c.format.SampleRate {
		src = beep.Resample(4, format.SampleRate, c.format.SampleRate, streamer)
	}

	buf := beep.NewBuffer(c.format)
	buf.Append(src)
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: chunk %s: empty audio", ErrDecode, chunk.ID)
	}
	return buf, nil
}

// Ready reports whether index is decoded and immediately schedulable.
func (c *Cache) Ready(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[index]
	if !ok {
		return false
	}
	select {
	case <-e.done:
		return e.err == nil
	default:
		return false
	}
}

// Pending reports whether a fetch+decode for index is in flight.
func (c *Cache) Pending(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[index]
	if !ok {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Purge drops every decoded buffer. Chapter switch is the only invalidation
// event; there is no per-chunk eviction.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[int]*entry)
	c.mu.Unlock()
}

// Format returns the output format buffers are decoded into.
func (c *Cache) Format() beep.Format {
	return c.format
}
