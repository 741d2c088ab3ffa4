package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"aloud/internal/config"
	"aloud/internal/pipeline"
	"aloud/internal/playback"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// command is one control message from the UI shell.
type command struct {
	Action    string  `json:"action"`
	ChapterID string  `json:"chapterId,omitempty"`
	Index     int     `json:"index,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Value     float64 `json:"value,omitempty"`
	ChunkID   string  `json:"chunkId,omitempty"`
	Offset    float64 `json:"offset,omitempty"`
}

// event is one outgoing message to every connected UI.
type event struct {
	Type     string             `json:"type"`
	State    string             `json:"state,omitempty"`
	Index    int                `json:"index,omitempty"`
	ChunkID  string             `json:"chunkId,omitempty"`
	Position *playback.Position `json:"position,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// hub fans transport events out to every connected session. It is the
// transport's single Listener.
type hub struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
}

func newHub() *hub {
	return &hub{sessions: make(map[*session]struct{})}
}

func (h *hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

func (h *hub) broadcast(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	for s := range h.sessions {
		s.send(data)
	}
	h.mu.Unlock()
}

func (h *hub) OnState(s playback.State) {
	h.broadcast(event{Type: "state", State: s.String()})
}

func (h *hub) OnPosition(p playback.Position) {
	h.broadcast(event{Type: "position", Position: &p})
}

func (h *hub) OnChunkChange(index int, id string) {
	h.broadcast(event{Type: "chunk", Index: index, ChunkID: id})
}

func (h *hub) OnChunkNeeded(index int) {
	h.broadcast(event{Type: "chunk_needed", Index: index})
}

func (h *hub) OnError(err error) {
	h.broadcast(event{Type: "error", Error: err.Error()})
}

type server struct {
	cfg       config.Config
	hub       *hub
	transport *playback.Transport
	pipeline  *pipeline.Client

	mu      sync.Mutex
	watcher *pipeline.Watcher
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("ws upgrade: %v", err)
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		srv:     s,
		conn:    conn,
		writeCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	s.hub.add(sess)
	logrus.WithField("session", sess.id).Info("ui connected")

	go sess.writeLoop()
	sess.readLoop()

	s.hub.remove(sess)
	sess.close()
	logrus.WithField("session", sess.id).Info("ui disconnected")
}

// session is one connected UI shell.
type session struct {
	id      string
	srv     *server
	conn    *websocket.Conn
	writeCh chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) send(data []byte) {
	select {
	case s.writeCh <- data:
	default:
		// Slow consumer; position events are periodic, drop this one.
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case data := <-s.writeCh:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readLoop() {
	log := logrus.WithField("session", s.id)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			log.Warnf("bad command: %v", err)
			continue
		}
		if err := s.srv.dispatch(cmd); err != nil {
			log.Warnf("%s: %v", cmd.Action, err)
			s.srv.hub.broadcast(event{Type: "error", Error: err.Error()})
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *server) dispatch(cmd command) error {
	switch cmd.Action {
	case "load_chapter":
		return s.loadChapter(cmd)
	case "play":
		return s.transport.Play()
	case "pause":
		s.transport.Pause()
		return nil
	case "toggle":
		return s.transport.Toggle()
	case "seek_chunk":
		return s.transport.SeekWithinChunk(cmd.Seconds)
	case "seek_chapter":
		return s.transport.SeekChapter(cmd.Seconds)
	case "set_speed":
		s.transport.SetSpeed(cmd.Value)
		return nil
	case "set_volume":
		s.transport.SetVolume(cmd.Value)
		return nil
	case "next":
		return s.transport.NextChunk()
	case "prev":
		return s.transport.PreviousChunk()
	case "load_chunk":
		return s.transport.LoadChunk(cmd.Index)
	case "snapshot":
		snap := s.transport.Snapshot()
		pos := playback.Position{
			ChunkIndex:  snap.ChunkIndex,
			ChunkID:     snap.ChunkID,
			ChunkTime:   snap.ChunkTime,
			ChapterTime: snap.ChapterTime,
		}
		s.hub.broadcast(event{Type: "state", State: snap.State.String(), Position: &pos})
		return nil
	default:
		return errUnknownAction(cmd.Action)
	}
}

// loadChapter swaps the whole chapter session: manifest, growth watcher,
// transport reset with optional resume point.
func (s *server) loadChapter(cmd command) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cat, err := s.pipeline.LoadChapter(ctx, cmd.ChapterID)
	if err != nil {
		return err
	}

	watcher, err := pipeline.Watch(s.cfg.PipelineWSURL, cmd.ChapterID, cat)
	if err != nil {
		logrus.Warnf("chapter %s: no growth feed: %v", cmd.ChapterID, err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.watcher = watcher
	s.mu.Unlock()

	var resume *playback.ResumePoint
	if cmd.ChunkID != "" {
		resume = &playback.ResumePoint{ChunkID: cmd.ChunkID, Offset: cmd.Offset}
	}
	s.transport.LoadChapter(cmd.ChapterID, cat, resume)
	return nil
}

type errUnknownAction string

func (e errUnknownAction) Error() string { return "unknown action: " + string(e) }
