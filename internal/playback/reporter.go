package playback

import (
	"sync"
	"time"
)

// DefaultTickInterval approximates a display-refresh tick for text
// highlighting.
const DefaultTickInterval = 50 * time.Millisecond

// Reporter samples the transport position on a fixed tick and forwards it
// to the listener while audio is playing. Each sample is recomputed from
// the output clock, so reading at any rate cannot accumulate drift.
type Reporter struct {
	transport *Transport
	listener  Listener
	interval  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

func NewReporter(t *Transport, listener Listener, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Reporter{
		transport: t,
		listener:  listener,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

func (r *Reporter) Start() {
	go r.run()
}

func (r *Reporter) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if r.transport.State() != StatePlaying {
				continue
			}
			if pos, ok := r.transport.Position(); ok && r.listener != nil {
				r.listener.OnPosition(pos)
			}
		case <-r.stop:
			return
		}
	}
}

func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
