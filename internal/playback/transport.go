package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/sirupsen/logrus"

	"aloud/internal/catalog"
	"aloud/internal/decode"
)

// Degraded-gap fallback policy: when a chunk finishes before its successor
// is decoded, the on-demand fetch is retried at full priority a bounded
// number of times before surfacing an error.
const (
	gapRetryAttempts = 3
	gapRetryBackoff  = 250 * time.Millisecond
)

// Options configures a Transport.
type Options struct {
	Listener  Listener
	Generator Generator
	Fetcher   decode.Fetcher
	Format    beep.Format
	Lookahead int
	Speed     float64
	Volume    float64
}

// ResumePoint restores a previously persisted listening position when a
// chapter is loaded.
type ResumePoint struct {
	ChunkID string
	Offset  float64
}

// Transport is the playback state machine and the single owner of the
// cursor. It resolves buffers through the decode cache, hands them to the
// Output, and processes completion signals strictly in arrival order.
type Transport struct {
	mu sync.Mutex

	out       Output
	listener  Listener
	generator Generator
	fetcher   decode.Fetcher
	format    beep.Format
	lookahead int

	chapterID string
	cat       *catalog.Catalog
	cache     *decode.Cache
	prefetch  *decode.Prefetcher

	state      State
	cursor     Cursor
	speed      float64
	volume     float64
	err        error
	gen        uint64 // generation of the unit/load currently owning the output
	genSeq     uint64 // allocator behind gen; every tag is drawn from it once
	pending    *Unit  // pre-queued next unit, if any
	wasPlaying bool   // whether Waiting should resume into Playing
	seekEv     events // gathered by reapplyCursorLocked, drained after unlock

	watchStop chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// events are listener notifications gathered under the lock and fired
// after it is released, so listeners may call back into the transport.
type events []func(Listener)

func (e *events) state(s State) { *e = append(*e, func(l Listener) { l.OnState(s) }) }
func (e *events) position(p Position) {
	*e = append(*e, func(l Listener) { l.OnPosition(p) })
}
func (e *events) chunk(index int, id string) {
	*e = append(*e, func(l Listener) { l.OnChunkChange(index, id) })
}
func (e *events) needed(index int) { *e = append(*e, func(l Listener) { l.OnChunkNeeded(index) }) }
func (e *events) failure(err error) {
	*e = append(*e, func(l Listener) { l.OnError(err) })
}

func New(out Output, opts Options) *Transport {
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	volume := opts.Volume
	if volume < 0 || volume > 1 {
		volume = 1.0
	}
	lookahead := opts.Lookahead
	if lookahead <= 0 {
		lookahead = decode.DefaultLookahead
	}

	t := &Transport{
		out:       out,
		listener:  opts.Listener,
		generator: opts.Generator,
		fetcher:   opts.Fetcher,
		format:    opts.Format,
		lookahead: lookahead,
		state:     StateIdle,
		speed:     speed,
		volume:    volume,
		closed:    make(chan struct{}),
	}
	out.SetSpeed(speed)
	out.SetVolume(volume)

	go t.completionLoop()
	return t
}

func (t *Transport) fire(ev events) {
	if t.listener == nil {
		return
	}
	for _, fn := range ev {
		fn(t.listener)
	}
}

func (t *Transport) completionLoop() {
	for {
		select {
		case u := <-t.out.Done():
			t.onUnitDone(u)
		case <-t.closed:
			return
		}
	}
}

// LoadChapter hard-resets the transport for a new chapter: output stopped,
// decode cache recreated, cursor placed at the resume point (or chunk 0).
func (t *Transport) LoadChapter(chapterID string, cat *catalog.Catalog, resume *ResumePoint) {
	t.mu.Lock()
	t.out.Stop()
	t.gen = t.newGenLocked()
	t.pending = nil
	if t.cache != nil {
		t.cache.Purge()
	}
	if t.watchStop != nil {
		close(t.watchStop)
	}

	t.chapterID = chapterID
	t.cat = cat
	t.cache = decode.NewCache(cat, t.fetcher, t.format)
	t.prefetch = decode.NewPrefetcher(cat, t.cache)

	t.cursor = Cursor{}
	if resume != nil {
		if chunk, ok := cat.ByID(resume.ChunkID); ok {
			offset := resume.Offset
			if offset < 0 {
				offset = 0
			}
			if offset > chunk.AudioDuration {
				offset = chunk.AudioDuration
			}
			t.cursor = Cursor{Index: chunk.Index, Offset: offset}
		}
	}
	t.err = nil
	t.wasPlaying = false
	var ev events
	t.setState(&ev, StateIdle)

	t.watchStop = make(chan struct{})
	go t.watchCatalog(cat, t.watchStop)

	t.prefetch.Prefetch(t.cursor.Index, t.lookahead)
	t.mu.Unlock()
	t.fire(ev)
}

// newGenLocked draws a fresh generation. The tag on a pre-queued unit
// comes from the same counter, so a superseded unit's tag can never
// collide with the generation a later owner runs under.
func (t *Transport) newGenLocked() uint64 {
	t.genSeq++
	return t.genSeq
}

func (t *Transport) setState(ev *events, s State) {
	if t.state == s {
		return
	}
	t.state = s
	ev.state(s)
}

// Play starts or resumes playback at the cursor. From StateError it
// re-attempts the same chunk; from StateEnded it replays the chapter.
func (t *Transport) Play() error {
	t.mu.Lock()
	if t.cat == nil {
		t.mu.Unlock()
		return ErrNoChapter
	}
	switch t.state {
	case StatePlaying, StateLoading, StateWaiting:
		t.mu.Unlock()
		return nil
	case StateEnded:
		t.cursor = Cursor{}
	case StateError:
		t.err = nil
	}
	var ev events
	err := t.startLocked(&ev)
	t.mu.Unlock()
	t.fire(ev)
	return err
}

// startLocked schedules the chunk at the cursor. Returns ErrChunkNotFound
// (without corrupting the cursor) when the index is beyond the catalog and
// no generator is configured.
func (t *Transport) startLocked(ev *events) error {
	if t.cursor.Index >= t.cat.Len() {
		if t.generator == nil {
			return fmt.Errorf("%w: index %d", decode.ErrChunkNotFound, t.cursor.Index)
		}
		t.enterWaitingLocked(ev, true)
		return nil
	}

	t.out.Stop()
	t.pending = nil
	t.gen = t.newGenLocked()
	t.setState(ev, StateLoading)
	go t.load(t.gen, t.cursor, t.cache)
	return nil
}

// load resolves the decoded buffer for cur and schedules it, unless the
// operation has been superseded in the meantime.
func (t *Transport) load(gen uint64, cur Cursor, cache *decode.Cache) {
	buf, err := cache.FetchDecoded(context.Background(), cur.Index)

	t.mu.Lock()
	if gen != t.gen || t.state != StateLoading {
		t.mu.Unlock()
		return
	}
	var ev events
	if err != nil {
		t.failLocked(&ev, err)
		t.mu.Unlock()
		t.fire(ev)
		return
	}

	unit := Unit{Gen: gen, Index: cur.Index, Buffer: buf, StartOffset: cur.Offset}
	if playErr := t.out.Play(unit); playErr != nil {
		t.failLocked(&ev, fmt.Errorf("%w: %v", ErrOutput, playErr))
		t.mu.Unlock()
		t.fire(ev)
		return
	}
	t.setState(&ev, StatePlaying)
	ev.position(t.positionLocked())

	t.prefetch.Prefetch(cur.Index+1, t.lookahead)
	go t.resolveNext(gen, cur.Index+1, t.cat, t.cache)
	t.mu.Unlock()
	t.fire(ev)
}

// resolveNext decodes the successor of the playing chunk and pre-queues it
// so the transition is sample-accurate. Failures are swallowed here; the
// degraded path at completion time deals with them.
func (t *Transport) resolveNext(gen uint64, index int, cat *catalog.Catalog, cache *decode.Cache) {
	if index >= cat.Len() {
		return
	}
	buf, err := cache.FetchDecoded(context.Background(), index)
	if err != nil {
		logrus.Warnf("transport: pre-queue of chunk %d failed: %v", index, err)
		return
	}

	t.mu.Lock()
	if gen != t.gen || t.state != StatePlaying || t.pending != nil || t.cache != cache {
		t.mu.Unlock()
		return
	}
	unit := Unit{Gen: t.newGenLocked(), Index: index, Buffer: buf}
	t.pending = &unit
	t.out.QueueNext(unit)
	t.mu.Unlock()
}

// onUnitDone processes a completion signal from the output. Signals whose
// generation no longer matches (seek, pause, chapter switch superseded the
// unit) are ignored.
func (t *Transport) onUnitDone(u Unit) {
	t.mu.Lock()
	if u.Gen != t.gen || t.state != StatePlaying {
		t.mu.Unlock()
		return
	}

	var ev events
	t.cursor = Cursor{Index: u.Index + 1}

	switch {
	case t.pending != nil && t.pending.Index == t.cursor.Index:
		// Gapless path: the queue already promoted the pre-queued unit
		// at the exact completion deadline; just adopt its generation.
		t.gen = t.pending.Gen
		t.pending = nil
		chunk, _ := t.cat.Chunk(t.cursor.Index)
		ev.chunk(chunk.Index, chunk.ID)
		ev.position(t.positionLocked())
		t.prefetch.Prefetch(t.cursor.Index+1, t.lookahead)
		go t.resolveNext(t.gen, t.cursor.Index+1, t.cat, t.cache)

	case t.cursor.Index < t.cat.Len():
		// Degraded path: successor exists but is not decoded yet. A
		// perceptible gap is accepted; fetch at full priority and start
		// "now" once it lands.
		chunk, _ := t.cat.Chunk(t.cursor.Index)
		ev.chunk(chunk.Index, chunk.ID)
		t.out.Stop()
		t.gen = t.newGenLocked()
		t.setState(&ev, StateLoading)
		go t.loadWithRetry(t.gen, t.cursor, t.cache)

	case t.generator != nil:
		t.enterWaitingLocked(&ev, true)

	default:
		t.out.Stop()
		t.setState(&ev, StateEnded)
	}
	t.mu.Unlock()
	t.fire(ev)
}

// loadWithRetry is the degraded-gap fallback: a bounded number of
// full-priority re-attempts before the failure surfaces as StateError.
func (t *Transport) loadWithRetry(gen uint64, cur Cursor, cache *decode.Cache) {
	var err error
	for attempt := 0; attempt < gapRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(gapRetryBackoff):
			case <-t.closed:
				return
			}
		}
		var buf *beep.Buffer
		buf, err = cache.FetchDecoded(context.Background(), cur.Index)
		if err != nil {
			logrus.Warnf("transport: chunk %d attempt %d: %v", cur.Index, attempt+1, err)
			continue
		}

		t.mu.Lock()
		if gen != t.gen || t.state != StateLoading {
			t.mu.Unlock()
			return
		}
		var ev events
		unit := Unit{Gen: gen, Index: cur.Index, Buffer: buf, StartOffset: cur.Offset}
		if playErr := t.out.Play(unit); playErr != nil {
			t.failLocked(&ev, fmt.Errorf("%w: %v", ErrOutput, playErr))
			t.mu.Unlock()
			t.fire(ev)
			return
		}
		t.setState(&ev, StatePlaying)
		ev.position(t.positionLocked())
		t.prefetch.Prefetch(cur.Index+1, t.lookahead)
		go t.resolveNext(gen, cur.Index+1, t.cat, t.cache)
		t.mu.Unlock()
		t.fire(ev)
		return
	}

	t.mu.Lock()
	if gen != t.gen || t.state != StateLoading {
		t.mu.Unlock()
		return
	}
	var ev events
	t.failLocked(&ev, err)
	t.mu.Unlock()
	t.fire(ev)
}

// failLocked surfaces an on-demand failure as StateError with the cursor
// retained, so a retry re-attempts the same chunk instead of skipping it.
func (t *Transport) failLocked(ev *events, err error) {
	t.out.Stop()
	t.pending = nil
	t.err = err
	t.setState(ev, StateError)
	ev.failure(err)
	logrus.Errorf("transport: chunk %d: %v", t.cursor.Index, err)
}

func (t *Transport) enterWaitingLocked(ev *events, wasPlaying bool) {
	index := t.cursor.Index
	t.out.Stop()
	t.pending = nil
	t.gen = t.newGenLocked()
	t.wasPlaying = wasPlaying
	t.setState(ev, StateWaiting)
	ev.needed(index)

	gen := t.gen
	chapterID := t.chapterID
	go func() {
		if err := t.generator.RequestChunk(context.Background(), chapterID, index); err != nil {
			t.mu.Lock()
			if gen != t.gen || t.state != StateWaiting {
				t.mu.Unlock()
				return
			}
			var fev events
			t.failLocked(&fev, fmt.Errorf("request chunk %d: %w", index, err))
			t.mu.Unlock()
			t.fire(fev)
		}
	}()
}

// watchCatalog reacts to catalog growth: it wakes a Waiting transport once
// the needed index exists and keeps the prefetch window warm while chunks
// arrive mid-playback. No polling; appends drive it.
func (t *Transport) watchCatalog(cat *catalog.Catalog, stop chan struct{}) {
	for {
		select {
		case <-cat.Updates():
		case <-stop:
			return
		case <-t.closed:
			return
		}

		t.mu.Lock()
		if t.cat != cat {
			t.mu.Unlock()
			return
		}
		var ev events
		switch {
		case t.state == StateWaiting && t.cursor.Index < cat.Len():
			if t.wasPlaying {
				if err := t.startLocked(&ev); err != nil {
					logrus.Warnf("transport: resume after growth: %v", err)
				}
			} else {
				t.setState(&ev, StatePaused)
			}
		case t.state == StatePlaying:
			t.prefetch.Prefetch(t.cursor.Index+1, t.lookahead)
			if t.pending == nil {
				go t.resolveNext(t.gen, t.cursor.Index+1, t.cat, t.cache)
			}
		}
		t.mu.Unlock()
		t.fire(ev)
	}
}

// Pause stops the output units, captures the authoritative offset from the
// output clock, and retains the cursor.
func (t *Transport) Pause() {
	t.mu.Lock()
	switch t.state {
	case StatePlaying:
		if gen, secs, ok := t.out.Progress(); ok && gen == t.gen {
			t.cursor.Offset = t.clampOffsetLocked(secs)
		}
	case StateLoading, StateWaiting:
		// Cancel the in-flight load; the cursor already holds the target.
	default:
		t.mu.Unlock()
		return
	}
	t.out.Stop()
	t.pending = nil
	t.gen = t.newGenLocked()
	var ev events
	t.setState(&ev, StatePaused)
	t.mu.Unlock()
	t.fire(ev)
}

// Toggle flips between playing and paused.
func (t *Transport) Toggle() error {
	t.mu.Lock()
	playing := t.state == StatePlaying || t.state == StateLoading
	t.mu.Unlock()
	if playing {
		t.Pause()
		return nil
	}
	return t.Play()
}

func (t *Transport) clampOffsetLocked(sec float64) float64 {
	if sec < 0 {
		return 0
	}
	if chunk, ok := t.cat.Chunk(t.cursor.Index); ok && sec > chunk.AudioDuration {
		return chunk.AudioDuration
	}
	return sec
}

// SeekWithinChunk moves the offset inside the current chunk, clamped to
// [0, chunk duration]. Restarts output only if currently playing.
func (t *Transport) SeekWithinChunk(sec float64) error {
	t.mu.Lock()
	if t.cat == nil {
		t.mu.Unlock()
		return ErrNoChapter
	}
	t.cursor.Offset = t.clampOffsetLocked(sec)
	err := t.reapplyCursorLocked()
	ev := t.drainSeekEvents()
	t.mu.Unlock()
	t.fire(ev)
	return err
}

// SeekChapter resolves a chapter-relative time to a cursor by linear
// accumulation over the catalog and applies the same playing/paused
// branching as SeekWithinChunk. Out-of-range times clamp to the chapter
// bounds.
func (t *Transport) SeekChapter(chapterTime float64) error {
	t.mu.Lock()
	if t.cat == nil {
		t.mu.Unlock()
		return ErrNoChapter
	}
	index, offset := t.cat.LocateTime(chapterTime)
	t.cursor = Cursor{Index: index, Offset: offset}
	err := t.reapplyCursorLocked()
	ev := t.drainSeekEvents()
	t.mu.Unlock()
	t.fire(ev)
	return err
}

// LoadChunk places the cursor at the start of a chunk. An index beyond the
// catalog enters the waiting state when a generator is configured and is a
// per-call error otherwise.
func (t *Transport) LoadChunk(index int) error {
	t.mu.Lock()
	if t.cat == nil {
		t.mu.Unlock()
		return ErrNoChapter
	}
	if index < 0 {
		index = 0
	}
	if index >= t.cat.Len() && t.generator == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: index %d", decode.ErrChunkNotFound, index)
	}
	t.cursor = Cursor{Index: index}
	err := t.reapplyCursorLocked()
	ev := t.drainSeekEvents()
	t.mu.Unlock()
	t.fire(ev)
	return err
}

// NextChunk advances to the next chunk boundary.
func (t *Transport) NextChunk() error {
	t.mu.Lock()
	index := t.cursor.Index + 1
	t.mu.Unlock()
	return t.LoadChunk(index)
}

// PreviousChunk returns to the previous chunk boundary (or the start of
// the first chunk).
func (t *Transport) PreviousChunk() error {
	t.mu.Lock()
	index := t.cursor.Index - 1
	t.mu.Unlock()
	return t.LoadChunk(index)
}

// reapplyCursorLocked restarts output at the (already updated) cursor when
// playing, or just keeps the cursor when paused/idle. Any in-flight units
// are stopped first so at most one audible source ever exists.
func (t *Transport) reapplyCursorLocked() error {
	switch t.state {
	case StatePlaying, StateLoading, StateWaiting:
		return t.startLocked(&t.seekEv)
	default:
		t.out.Stop()
		t.pending = nil
		t.gen = t.newGenLocked()
		if t.cursor.Index >= t.cat.Len() && t.generator != nil {
			t.enterWaitingLocked(&t.seekEv, false)
			return nil
		}
		t.seekEv.position(t.positionLocked())
		return nil
	}
}

func (t *Transport) drainSeekEvents() events {
	ev := t.seekEv
	t.seekEv = nil
	return ev
}

// SetSpeed changes the playback rate for in-flight and future units. The
// cursor and reported chapter time are unaffected; only the rate of future
// accrual changes.
func (t *Transport) SetSpeed(rate float64) {
	if rate <= 0 {
		return
	}
	t.mu.Lock()
	t.speed = rate
	t.mu.Unlock()
	t.out.SetSpeed(rate)
}

// SetVolume changes the output level (0..1) for in-flight and future units.
func (t *Transport) SetVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	t.mu.Lock()
	t.volume = level
	t.mu.Unlock()
	t.out.SetVolume(level)
}

// positionLocked derives the current position from the output clock when a
// unit is live, falling back to the cursor otherwise.
func (t *Transport) positionLocked() Position {
	chunkTime := t.cursor.Offset
	if t.state == StatePlaying {
		if gen, secs, ok := t.out.Progress(); ok && gen == t.gen {
			chunkTime = t.clampOffsetLocked(secs)
		}
	}
	var id string
	if chunk, ok := t.cat.Chunk(t.cursor.Index); ok {
		id = chunk.ID
	}
	return Position{
		ChunkIndex:  t.cursor.Index,
		ChunkID:     id,
		ChunkTime:   chunkTime,
		ChapterTime: t.cat.StartOf(t.cursor.Index) + chunkTime,
	}
}

// Position samples the current playback position. ok is false before a
// chapter is loaded.
func (t *Transport) Position() (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cat == nil {
		return Position{}, false
	}
	return t.positionLocked(), true
}

// Snapshot returns the read-only state exposed to the UI shell.
func (t *Transport) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		State:      t.state,
		IsPlaying:  t.state == StatePlaying,
		IsLoading:  t.state == StateLoading || t.state == StateWaiting,
		ChunkIndex: t.cursor.Index,
		Speed:      t.speed,
		Volume:     t.volume,
		Err:        t.err,
	}
	if t.cat != nil {
		pos := t.positionLocked()
		snap.ChunkID = pos.ChunkID
		snap.ChunkTime = pos.ChunkTime
		snap.ChapterTime = pos.ChapterTime
		snap.ChapterDuration = t.cat.TotalDuration()
	}
	return snap
}

// State returns the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close stops the transport permanently.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.out.Stop()
		t.pending = nil
		t.gen = t.newGenLocked()
		if t.watchStop != nil {
			close(t.watchStop)
			t.watchStop = nil
		}
		t.state = StateIdle
		close(t.closed)
		t.mu.Unlock()
	})
}
