package decode

import (
	"context"

	"github.com/sirupsen/logrus"

	"aloud/internal/catalog"
)

// DefaultLookahead is how many chunks the transport keeps decoded ahead of
// the playback cursor.
const DefaultLookahead = 3

// Prefetcher speculatively decodes upcoming chunks through the cache.
// Prefetch failures are best-effort and never surface to the listener; the
// on-demand path reports them if the chunk is still broken when needed.
type Prefetcher struct {
	cat   *catalog.Catalog
	cache *Cache
}

func NewPrefetcher(cat *catalog.Catalog, cache *Cache) *Prefetcher {
	return &Prefetcher{cat: cat, cache: cache}
}

// Prefetch triggers decode of up to count chunks starting at from, clamped
// to the current catalog length. Fire-and-forget: it never blocks the
// caller, and indices already cached or in flight are skipped (the cache's
// single-flight entry makes the skip race-free).
func (p *Prefetcher) Prefetch(from, count int) {
	if from < 0 {
		from = 0
	}
	end := from + count
	if n := p.cat.Len(); end > n {
		end = n
	}
	for i := from; i < end; i++ {
		if p.cache.Ready(i) || p.cache.Pending(i) {
			continue
		}
		go func(index int) {
			if _, err := p.cache.FetchDecoded(context.Background(), index); err != nil {
				logrus.Warnf("prefetch: chunk %d: %v", index, err)
			}
		}(i)
	}
}
