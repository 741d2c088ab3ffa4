package decode

import "context"

// Fetcher retrieves the raw encoded audio for a chunk. The generation
// pipeline client is the production implementation.
type Fetcher interface {
	FetchAudio(ctx context.Context, chunkID string) ([]byte, error)
}
