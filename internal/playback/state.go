package playback

// State is the transport's lifecycle state.
type State int

const (
	// StateIdle indicates no chapter is playing and nothing is loading.
	StateIdle State = iota
	// StateLoading indicates the chunk at the cursor is being fetched/decoded.
	StateLoading
	// StatePlaying indicates audio is being produced.
	StatePlaying
	// StatePaused indicates playback is suspended with the cursor retained.
	StatePaused
	// StateWaiting indicates the cursor points past the catalog and the
	// transport is waiting for the generation pipeline to append the chunk.
	StateWaiting
	// StateEnded indicates the last catalog chunk finished playing.
	StateEnded
	// StateError indicates an unrecoverable fetch/decode/output failure.
	// The cursor is retained so the same position can be retried.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateWaiting:
		return "waiting"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Cursor is the authoritative playback position: a chunk index plus the
// offset within that chunk in seconds. Chapter time is always derived from
// it through the catalog, never stored separately.
type Cursor struct {
	Index  int
	Offset float64
}

// Snapshot is the read-only transport state exposed to the UI shell.
type Snapshot struct {
	State           State
	IsPlaying       bool
	IsLoading       bool
	ChunkIndex      int
	ChunkID         string
	ChunkTime       float64
	ChapterTime     float64
	ChapterDuration float64
	Speed           float64
	Volume          float64
	Err             error
}
