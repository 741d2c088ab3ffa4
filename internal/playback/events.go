package playback

import "context"

// Position is one sample of the playback position, emitted on every
// reporter tick and immediately on chunk boundary crossings.
type Position struct {
	ChunkIndex  int
	ChunkID     string
	ChunkTime   float64
	ChapterTime float64
}

// Listener receives transport events. A single subscriber replaces the
// per-concern callback chain; all methods are invoked outside the
// transport's lock, so implementations may call back into the transport.
type Listener interface {
	OnState(s State)
	OnPosition(p Position)
	OnChunkChange(index int, id string)
	OnChunkNeeded(index int)
	OnError(err error)
}

// Generator is the external collaborator that produces audio for chunks
// the catalog does not contain yet. RequestChunk only triggers generation;
// the transport resumes when the catalog itself reports growth.
type Generator interface {
	RequestChunk(ctx context.Context, chapterID string, index int) error
}
