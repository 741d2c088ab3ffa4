package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"aloud/internal/catalog"
	"aloud/pkg/ws"
)

// chunkEvent is the pipeline's push notification for a newly generated
// chunk.
type chunkEvent struct {
	Type      string          `json:"type"`
	ChapterID string          `json:"chapterId"`
	Chunk     ChunkDescriptor `json:"chunk"`
}

// Watcher subscribes to the pipeline's WebSocket event feed and appends
// newly generated chunks to the chapter's catalog, which is what wakes a
// waiting transport and extends the prefetch window.
type Watcher struct {
	chapterID string
	cat       *catalog.Catalog
	client    *ws.Client
}

// Watch connects to wsURL and starts feeding cat. The feed redials on
// drops; events missed in between are reconciled by the next manifest
// reload. Close the returned watcher when the chapter session ends.
func Watch(wsURL, chapterID string, cat *catalog.Catalog) (*Watcher, error) {
	w := &Watcher{chapterID: chapterID, cat: cat}
	client, err := ws.Dial(context.Background(), wsURL, w, ws.Options{
		ReconnectWait: time.Second,
	})
	if err != nil {
		return nil, err
	}
	w.client = client
	return w, nil
}

func (w *Watcher) OnOpen(c *ws.Client) {
	logrus.Infof("pipeline: watching chapter %s", w.chapterID)
}

func (w *Watcher) OnMessage(c *ws.Client, msgType int, msg []byte) {
	var ev chunkEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		logrus.Warnf("pipeline: bad event payload: %v", err)
		return
	}
	if ev.Type != "chunk_created" || ev.ChapterID != w.chapterID {
		return
	}
	if err := w.cat.Append(ev.Chunk.chunk()); err != nil {
		// Out-of-order delivery; the next manifest reload reconciles.
		logrus.Warnf("pipeline: drop chunk %d: %v", ev.Chunk.Index, err)
	}
}

func (w *Watcher) OnError(c *ws.Client, err error) {
	logrus.Warnf("pipeline: event feed error: %v", err)
}

func (w *Watcher) OnClose(c *ws.Client) {
	logrus.Infof("pipeline: event feed closed for chapter %s", w.chapterID)
}

func (w *Watcher) Close() {
	if w.client != nil {
		w.client.Close()
	}
}
