package main

import "testing"

func TestSendDropsWhenConsumerIsSlow(t *testing.T) {
	s := &session{
		writeCh: make(chan []byte, 2),
		done:    make(chan struct{}),
	}

	s.send([]byte("a"))
	s.send([]byte("b"))
	s.send([]byte("c")) // queue full, dropped without blocking

	if got := len(s.writeCh); got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}
	if first := <-s.writeCh; string(first) != "a" {
		t.Fatalf("first queued = %q, want oldest message kept", first)
	}
}
