package playback

import (
	"math"
	"testing"

	"github.com/gopxl/beep"
)

const queueTestRate = beep.SampleRate(1000)

var queueTestFormat = beep.Format{SampleRate: queueTestRate, NumChannels: 2, Precision: 2}

// tone yields n samples at a constant level, then ends.
type tone struct {
	n int
	v float64
}

func (t *tone) Stream(samples [][2]float64) (int, bool) {
	if t.n == 0 {
		return 0, false
	}
	n := 0
	for i := range samples {
		if t.n == 0 {
			break
		}
		samples[i] = [2]float64{t.v, t.v}
		t.n--
		n++
	}
	return n, true
}

func (t *tone) Err() error { return nil }

func toneBuffer(n int, v float64) *beep.Buffer {
	b := beep.NewBuffer(queueTestFormat)
	b.Append(&tone{n: n, v: v})
	return b
}

func levelNear(got, want float64) bool {
	return math.Abs(got-want) < 0.01
}

func TestStreamZeroFillsWhenEmpty(t *testing.T) {
	q := newUnitQueue(queueTestRate)
	samples := make([][2]float64, 64)
	samples[3] = [2]float64{0.5, 0.5}

	n, ok := q.Stream(samples)
	if n != len(samples) || !ok {
		t.Fatalf("Stream = (%d, %v), want (%d, true)", n, ok, len(samples))
	}
	for i, s := range samples {
		if s[0] != 0 || s[1] != 0 {
			t.Fatalf("sample %d = %v, want silence", i, s)
		}
	}
}

func TestGaplessPromotion(t *testing.T) {
	q := newUnitQueue(queueTestRate)
	q.setCurrent(Unit{Gen: 1, Index: 0, Buffer: toneBuffer(10, 0.25)})
	q.setNext(Unit{Gen: 2, Index: 1, Buffer: toneBuffer(10, 0.75)})

	// One Stream call spanning the boundary: the next unit must continue
	// on the very sample the current one ended on.
	samples := make([][2]float64, 20)
	n, ok := q.Stream(samples)
	if n != 20 || !ok {
		t.Fatalf("Stream = (%d, %v), want (20, true)", n, ok)
	}
	for i := 0; i < 10; i++ {
		if !levelNear(samples[i][0], 0.25) {
			t.Fatalf("sample %d = %v, want first unit level", i, samples[i][0])
		}
	}
	for i := 10; i < 20; i++ {
		if !levelNear(samples[i][0], 0.75) {
			t.Fatalf("sample %d = %v, want second unit level", i, samples[i][0])
		}
	}

	select {
	case u := <-q.done:
		if u.Index != 0 || u.Gen != 1 {
			t.Fatalf("completion = %+v, want unit 0 gen 1", u)
		}
	default:
		t.Fatalf("no completion signal for the finished unit")
	}

	gen, samplesPos, ok := q.progress()
	if !ok || gen != 2 || samplesPos != 10 {
		t.Fatalf("progress = (%d, %d, %v), want (2, 10, true)", gen, samplesPos, ok)
	}
}

func TestStreamContinuesWithSilenceAfterLastUnit(t *testing.T) {
	q := newUnitQueue(queueTestRate)
	q.setCurrent(Unit{Gen: 1, Index: 0, Buffer: toneBuffer(5, 0.5)})

	samples := make([][2]float64, 12)
	n, ok := q.Stream(samples)
	if n != 12 || !ok {
		t.Fatalf("Stream = (%d, %v), want (12, true)", n, ok)
	}
	for i := 5; i < 12; i++ {
		if samples[i][0] != 0 {
			t.Fatalf("sample %d = %v, want silence after last unit", i, samples[i][0])
		}
	}
	if _, _, ok := q.progress(); ok {
		t.Fatalf("progress reported a unit after the queue drained")
	}
}

func TestStartOffsetSkipsSamples(t *testing.T) {
	q := newUnitQueue(queueTestRate)
	// 1000 Hz rate: 0.1 s offset is 100 samples into a 150 sample buffer.
	q.setCurrent(Unit{Gen: 1, Index: 0, Buffer: toneBuffer(150, 0.5), StartOffset: 0.1})

	_, samplesPos, ok := q.progress()
	if !ok || samplesPos != 100 {
		t.Fatalf("progress samples = (%d, %v), want (100, true)", samplesPos, ok)
	}

	samples := make([][2]float64, 200)
	q.Stream(samples)
	for i := 0; i < 50; i++ {
		if !levelNear(samples[i][0], 0.5) {
			t.Fatalf("sample %d = %v, want tone", i, samples[i][0])
		}
	}
	for i := 50; i < 200; i++ {
		if samples[i][0] != 0 {
			t.Fatalf("sample %d = %v, want silence", i, samples[i][0])
		}
	}
}

func TestStartOffsetClampedToBufferEnd(t *testing.T) {
	q := newUnitQueue(queueTestRate)
	q.setCurrent(Unit{Gen: 1, Index: 0, Buffer: toneBuffer(10, 0.5), StartOffset: 99})

	samples := make([][2]float64, 4)
	q.Stream(samples)
	select {
	case u := <-q.done:
		if u.Index != 0 {
			t.Fatalf("completion = %+v", u)
		}
	default:
		t.Fatalf("fully skipped unit should complete immediately")
	}
}

func TestStopDiscardsBothUnits(t *testing.T) {
	q := newUnitQueue(queueTestRate)
	q.setCurrent(Unit{Gen: 1, Index: 0, Buffer: toneBuffer(10, 0.5)})
	q.setNext(Unit{Gen: 2, Index: 1, Buffer: toneBuffer(10, 0.5)})
	q.stop()

	samples := make([][2]float64, 8)
	q.Stream(samples)
	for i, s := range samples {
		if s[0] != 0 {
			t.Fatalf("sample %d = %v after stop, want silence", i, s[0])
		}
	}
	select {
	case u := <-q.done:
		t.Fatalf("unexpected completion %+v after stop", u)
	default:
	}
}
