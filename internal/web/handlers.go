package web

import (
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
	"github.com/cjeanneret/SlideGo/internal/protocol"
)

// CommandHandler answers one protocol request. *protocol.Handler
// implements it.
type CommandHandler interface {
	Handle(source, line string) string
}

// StatusSource reports the slider state. *motion.Supervisor implements it.
type StatusSource interface {
	Snapshot() motion.Snapshot
}

// maxBodyBytes bounds a POST /command body.
const maxBodyBytes = 1024

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Commands    CommandHandler
	Status      StatusSource
	staticFS    fs.FS
	upgrader    websocket.Upgrader
	heartbeat   time.Duration
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, commands CommandHandler, status StatusSource, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Commands:    commands,
		Status:      status,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxRequestLen + 1,
			WriteBufferSize: 1024,
			// The page is served from the slider itself; LAN tools may not be.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		heartbeat: 30 * time.Second,
	}
}

// ServeIndex serves the control page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCommand handles POST /command. The body is one protocol request,
// the response body its reply.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "command too long", http.StatusRequestEntityTooLarge)
		return
	}
	line := strings.TrimSpace(string(body))
	if line == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	if len(line) > protocol.MaxRequestLen {
		line = line[:protocol.MaxRequestLen]
	}

	reply := h.Commands.Handle(r.RemoteAddr, line)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, reply+"\n")
}

// HandleStatus returns the slider snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(h.Status.Snapshot())
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleWebSocket handles GET /ws: every text message is a request and
// gets one text message back.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		debug.Verbose("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)
	debug.Verbose("websocket client %s connected", r.RemoteAddr)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.Verbose("websocket client %s: %v", r.RemoteAddr, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		line := strings.TrimSpace(string(msg))
		if len(line) > protocol.MaxRequestLen {
			line = line[:protocol.MaxRequestLen]
		}
		reply := h.Commands.Handle(r.RemoteAddr, line)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			debug.Verbose("websocket client %s: %v", r.RemoteAddr, err)
			return
		}
	}
}
