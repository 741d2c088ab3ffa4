package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"aloud/internal/catalog"
)

func TestWatcherAppendsMatchingChunks(t *testing.T) {
	events := []chunkEvent{
		{Type: "chunk_created", ChapterID: "ch1", Chunk: ChunkDescriptor{ID: "a", Index: 0, AudioDuration: 5}},
		{Type: "chunk_created", ChapterID: "other", Chunk: ChunkDescriptor{ID: "x", Index: 0, AudioDuration: 5}},
		{Type: "chapter_done", ChapterID: "ch1"},
		{Type: "chunk_created", ChapterID: "ch1", Chunk: ChunkDescriptor{ID: "b", Index: 1, AudioDuration: 6}},
		// Out of order: dropped, catalog stays contiguous.
		{Type: "chunk_created", ChapterID: "ch1", Chunk: ChunkDescriptor{ID: "d", Index: 3, AudioDuration: 7}},
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		// Keep the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	cat := catalog.New()
	watcher, err := Watch(wsURL, "ch1", cat)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer watcher.Close()

	deadline := time.Now().Add(2 * time.Second)
	for cat.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("catalog length = %d, want 2", cat.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	chunk, ok := cat.Chunk(1)
	if !ok || chunk.ID != "b" {
		t.Fatalf("chunk 1 = %+v, want id b", chunk)
	}
	// The other chapter's chunk and the gap chunk were filtered out.
	time.Sleep(50 * time.Millisecond)
	if cat.Len() != 2 {
		t.Fatalf("catalog length = %d after filtering, want 2", cat.Len())
	}
}
