package playback

import (
	"fmt"
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"
	"github.com/sirupsen/logrus"
)

const resampleQuality = 4

// Output is what the transport schedules against. The beep-backed
// Scheduler is the production implementation; tests substitute a fake.
type Output interface {
	// Play stops any current and pre-queued unit and starts u now.
	Play(u Unit) error
	// QueueNext replaces the pre-queued unit. It starts back-to-back at
	// the exact sample the current unit ends on.
	QueueNext(u Unit)
	// Stop discards the current and pre-queued units.
	Stop()
	SetSpeed(rate float64)
	SetVolume(level float64)
	// Progress reports the generation and intra-chunk position (seconds,
	// including the scheduled start offset) of the unit producing audio.
	Progress() (gen uint64, seconds float64, ok bool)
	// Done delivers completion signals in scheduling order.
	Done() <-chan Unit
}

// Scheduler owns the audio output graph: unit queue -> rate resampler ->
// volume -> speaker. Position is derived from source samples consumed,
// which is the output clock itself: it cannot drift against what is
// audible and is unaffected by speed changes, since the resampler consumes
// source samples at the current ratio.
type Scheduler struct {
	format beep.Format
	queue  *unitQueue
	rate   *beep.Resampler
	volume *effects.Volume
}

// NewScheduler initializes the platform speaker at sampleRate and starts
// the (initially silent) output graph. Initialization failure is an
// ErrOutput: not retryable within this session.
func NewScheduler(sampleRate int) (*Scheduler, error) {
	sr := beep.SampleRate(sampleRate)
	format := beep.Format{SampleRate: sr, NumChannels: 2, Precision: 2}

	queue := newUnitQueue(sr)
	rate := beep.ResampleRatio(resampleQuality, 1.0, queue)
	volume := &effects.Volume{Streamer: rate, Base: 2}

	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutput, err)
	}
	speaker.Play(volume)

	logrus.Infof("scheduler: speaker initialized at %d Hz", sampleRate)
	return &Scheduler{
		format: format,
		queue:  queue,
		rate:   rate,
		volume: volume,
	}, nil
}

// Format is the output format decoded buffers must be in.
func (s *Scheduler) Format() beep.Format {
	return s.format
}

func (s *Scheduler) Play(u Unit) error {
	speaker.Lock()
	s.queue.setCurrent(u)
	speaker.Unlock()
	return nil
}

func (s *Scheduler) QueueNext(u Unit) {
	speaker.Lock()
	s.queue.setNext(u)
	speaker.Unlock()
}

func (s *Scheduler) Stop() {
	speaker.Lock()
	s.queue.stop()
	speaker.Unlock()
}

func (s *Scheduler) SetSpeed(rate float64) {
	if rate <= 0 {
		return
	}
	speaker.Lock()
	s.rate.SetRatio(rate)
	speaker.Unlock()
}

// SetVolume maps a linear 0..1 level onto beep's logarithmic volume.
func (s *Scheduler) SetVolume(level float64) {
	speaker.Lock()
	if level <= 0 {
		s.volume.Silent = true
	} else {
		s.volume.Silent = false
		if level > 1 {
			level = 1
		}
		s.volume.Volume = math.Log2(level)
	}
	speaker.Unlock()
}

func (s *Scheduler) Progress() (uint64, float64, bool) {
	speaker.Lock()
	gen, samples, ok := s.queue.progress()
	speaker.Unlock()
	if !ok {
		return 0, 0, false
	}
	return gen, s.format.SampleRate.D(samples).Seconds(), true
}

func (s *Scheduler) Done() <-chan Unit {
	return s.queue.done
}

// Close silences the output graph. The speaker itself stays initialized;
// beep owns it process-wide.
func (s *Scheduler) Close() {
	s.Stop()
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
