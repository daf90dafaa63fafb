package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/pkg/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to localhost; cross-origin pages cannot reach it
		// without explicit port forwarding.
		return true
	},
}

// WSMessageType labels the frames on the progress stream.
type WSMessageType string

const (
	WSTypeProgress WSMessageType = "progress"
	WSTypeStatus   WSMessageType = "status"
	WSTypeDone     WSMessageType = "done"
	WSTypePong     WSMessageType = "pong"
)

// WSMessage is one frame on the progress stream.
type WSMessage struct {
	Type      WSMessageType `json:"type"`
	Timestamp string        `json:"timestamp"`
	Data      any           `json:"data,omitempty"`
}

func wsMessage(t WSMessageType, data any) []byte {
	b, err := json.Marshal(WSMessage{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		logger.Error("failed to marshal websocket frame", "type", string(t), "error", err)
	}
	return b
}

// ProgressStream streams a job's progress counters over a WebSocket. Frames
// are sent whenever the counters change, plus a keepalive ping. The stream
// ends with a "done" frame once the job reaches a terminal status.
type ProgressStream struct {
	registry *Registry
	store    *job.Store
	interval time.Duration
}

// NewProgressStream creates the stream handler. The poll interval defaults
// to one second.
func NewProgressStream(registry *Registry, store *job.Store) *ProgressStream {
	return &ProgressStream{registry: registry, store: store, interval: time.Second}
}

// Handle upgrades the connection and streams progress for the job in the URL.
func (s *ProgressStream) Handle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	j := s.registry.Get(id)
	if j == nil {
		stored, err := s.store.Get(id)
		if err != nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		j = stored
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, j, done)
}

// readPump drains client frames and answers pings until the peer goes away.
func (s *ProgressStream) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err == nil && msg.Type == "ping" {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, wsMessage(WSTypePong, nil)); err != nil {
				return
			}
		}
	}
}

func (s *ProgressStream) writePump(conn *websocket.Conn, j *job.Job, done <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	send := func(frame []byte) bool {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, frame) == nil
	}

	last := j.Progress().Snapshot()
	if !send(wsMessage(WSTypeProgress, last)) {
		return
	}

	for {
		select {
		case <-ticker.C:
			snap := j.Progress().Snapshot()
			if snap.RecordsWritten != last.RecordsWritten ||
				snap.BatchesDone != last.BatchesDone ||
				snap.Phase != last.Phase ||
				snap.Message != last.Message {
				last = snap
				if !send(wsMessage(WSTypeProgress, snap)) {
					return
				}
			}

			if status := j.CurrentStatus(); status.Terminal() {
				send(wsMessage(WSTypeDone, map[string]any{
					"status":   status,
					"progress": snap,
				}))
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status)))
				return
			}

		case <-keepalive.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
