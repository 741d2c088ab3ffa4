package catalog

import (
	"testing"
)

func chapter(durations ...float64) *Catalog {
	c := New()
	for i, d := range durations {
		err := c.Append(Chunk{
			ID:            string(rune('a' + i)),
			Index:         i,
			AudioDuration: d,
		})
		if err != nil {
			panic(err)
		}
	}
	return c
}

func TestAppendContiguity(t *testing.T) {
	c := New()
	if err := c.Append(Chunk{ID: "c0", Index: 0, AudioDuration: 10}); err != nil {
		t.Fatalf("append chunk 0: %v", err)
	}
	if err := c.Append(Chunk{ID: "c2", Index: 2, AudioDuration: 8}); err == nil {
		t.Fatalf("expected append of index 2 after 0 to fail")
	}
	if c.Len() != 1 {
		t.Fatalf("catalog length changed by rejected append, got %d", c.Len())
	}
	if err := c.Append(Chunk{ID: "c1", Index: 1, AudioDuration: 8}); err != nil {
		t.Fatalf("append chunk 1: %v", err)
	}
	if c.Version() != 2 {
		t.Fatalf("version = %d, want 2", c.Version())
	}
}

func TestLocateTime(t *testing.T) {
	c := chapter(10.0, 8.0, 12.0)

	tests := []struct {
		name       string
		time       float64
		wantIndex  int
		wantOffset float64
	}{
		{"start", 0, 0, 0},
		{"inside first", 4.5, 0, 4.5},
		{"exact boundary", 10.0, 1, 0},
		{"inside second", 15.0, 1, 5.0},
		{"inside third", 25.0, 2, 7.0},
		{"past end clamps to last chunk end", 30.0, 2, 12.0},
		{"far past end", 99.0, 2, 12.0},
		{"negative clamps to start", -5.0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, offset := c.LocateTime(tt.time)
			if index != tt.wantIndex || offset != tt.wantOffset {
				t.Fatalf("LocateTime(%v) = (%d, %v), want (%d, %v)",
					tt.time, index, offset, tt.wantIndex, tt.wantOffset)
			}
		})
	}
}

func TestLocateTimeEmpty(t *testing.T) {
	c := New()
	if index, offset := c.LocateTime(5); index != 0 || offset != 0 {
		t.Fatalf("empty catalog LocateTime = (%d, %v), want (0, 0)", index, offset)
	}
}

func TestStartOfAndTotal(t *testing.T) {
	c := chapter(10.0, 8.0, 12.0)
	if got := c.StartOf(0); got != 0 {
		t.Fatalf("StartOf(0) = %v", got)
	}
	if got := c.StartOf(2); got != 18.0 {
		t.Fatalf("StartOf(2) = %v, want 18", got)
	}
	if got := c.TotalDuration(); got != 30.0 {
		t.Fatalf("TotalDuration = %v, want 30", got)
	}
}

func TestByID(t *testing.T) {
	c := chapter(10.0, 8.0)
	chunk, ok := c.ByID("b")
	if !ok || chunk.Index != 1 {
		t.Fatalf("ByID(b) = (%+v, %v)", chunk, ok)
	}
	if _, ok := c.ByID("missing"); ok {
		t.Fatalf("ByID(missing) reported a chunk")
	}
}

func TestUpdatesSignalCoalesced(t *testing.T) {
	c := New()
	// Two appends without a read in between still leave exactly one
	// pending signal.
	c.Append(Chunk{ID: "a", Index: 0, AudioDuration: 1})
	c.Append(Chunk{ID: "b", Index: 1, AudioDuration: 1})

	select {
	case <-c.Updates():
	default:
		t.Fatalf("expected a pending growth signal")
	}
	select {
	case <-c.Updates():
		t.Fatalf("growth signals not coalesced")
	default:
	}
}
