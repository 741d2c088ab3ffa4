package playback

import (
	"github.com/gopxl/beep"
)

// Unit is one schedulable stretch of decoded audio: a chunk's buffer plus
// the offset it should start from. Gen tags the cursor state it was
// created for; completion signals carrying a stale Gen are ignored.
type Unit struct {
	Gen         uint64
	Index       int
	Buffer      *beep.Buffer
	StartOffset float64
}

type activeUnit struct {
	unit     Unit
	streamer beep.Streamer
	start    int // source samples skipped by StartOffset
	consumed int // source samples streamed so far
}

// unitQueue is the source streamer of the output graph. It holds at most
// one current and one pre-queued next unit. When the current unit exhausts
// mid-Stream the next one is promoted within the same call, so the
// transition lands on the exact sample the previous unit ended on.
//
// All mutation happens under speaker.Lock (via the Scheduler); Stream is
// called by the speaker while holding the same lock.
type unitQueue struct {
	sampleRate beep.SampleRate
	current    *activeUnit
	next       *activeUnit
	done       chan Unit
}

func newUnitQueue(sr beep.SampleRate) *unitQueue {
	return &unitQueue{
		sampleRate: sr,
		done:       make(chan Unit, 8),
	}
}

func (q *unitQueue) activate(u Unit) *activeUnit {
	from := q.sampleRate.N(secondsToDuration(u.StartOffset))
	if from < 0 {
		from = 0
	}
	if from > u.Buffer.Len() {
		from = u.Buffer.Len()
	}
	return &activeUnit{
		unit:     u,
		streamer: u.Buffer.Streamer(from, u.Buffer.Len()),
		start:    from,
	}
}

func (q *unitQueue) setCurrent(u Unit) {
	q.current = q.activate(u)
	q.next = nil
}

func (q *unitQueue) setNext(u Unit) {
	q.next = q.activate(u)
}

func (q *unitQueue) stop() {
	q.current = nil
	q.next = nil
}

// progress returns the generation and source-samples position of the unit
// currently producing audio.
func (q *unitQueue) progress() (gen uint64, samples int, ok bool) {
	if q.current == nil {
		return 0, 0, false
	}
	return q.current.unit.Gen, q.current.start + q.current.consumed, true
}

// Stream always fills the whole slice, zero-filling when no unit is
// loaded, so the downstream resampler never spins on an empty source.
func (q *unitQueue) Stream(samples [][2]float64) (int, bool) {
	filled := 0
	for filled < len(samples) {
		if q.current == nil {
			for i := filled; i < len(samples); i++ {
				samples[i] = [2]float64{}
			}
			return len(samples), true
		}

		n, ok := q.current.streamer.Stream(samples[filled:])
		q.current.consumed += n
		filled += n
		if !ok {
			finished := q.current.unit
			q.current = q.next
			q.next = nil
			// Non-blocking send: Stream runs on the audio path and
			// must never wait on the transport.
			select {
			case q.done <- finished:
			default:
			}
		}
	}
	return len(samples), true
}

func (q *unitQueue) Err() error { return nil }
