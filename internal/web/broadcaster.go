package web

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// subscriberBuffer is the per-client backlog before messages are dropped.
const subscriberBuffer = 64

// StatusEvent is one log or command event pushed to web clients.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans events out to SSE clients and keeps the last few
// so a page opened mid-session sees recent activity.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	history []string
	keep    int
	now     func() time.Time
}

// NewStatusBroadcaster creates a broadcaster replaying up to keep events
// to new subscribers. keep is capped at the subscriber buffer size.
func NewStatusBroadcaster(keep int) *StatusBroadcaster {
	if keep < 0 {
		keep = 0
	}
	if keep > subscriberBuffer {
		keep = subscriberBuffer
	}
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		keep:    keep,
		now:     time.Now,
	}
}

// Subscribe returns a channel of JSON-encoded events, starting with the
// retained history, and the function that unsubscribes it.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	for _, payload := range b.history {
		ch <- payload
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of live subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends one event to every subscriber. Slow clients miss
// events rather than blocking the sender.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(StatusEvent{
		Time:  b.now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keep > 0 {
		if len(b.history) == b.keep {
			copy(b.history, b.history[1:])
			b.history = b.history[:b.keep-1]
		}
		b.history = append(b.history, payload)
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Writer returns an io.Writer broadcasting every non-empty line written
// to it at level. It is meant to be teed into the debug logger.
func (b *StatusBroadcaster) Writer(level string) io.Writer {
	return &lineWriter{b: b, level: level}
}

type lineWriter struct {
	b     *StatusBroadcaster
	level string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.b.Broadcast(w.level, line)
		}
	}
	return len(p), nil
}
