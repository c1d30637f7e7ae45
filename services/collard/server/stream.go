package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"collarfi/core/events"
)

// StreamEvent is one committed event as delivered to websocket clients.
type StreamEvent struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Stream fans committed events out to websocket subscribers. Emit never
// blocks: a subscriber whose buffer is full is disconnected.
type Stream struct {
	buffer int
	seq    atomic.Uint64

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	ch      chan StreamEvent
	filter  map[string]struct{}
	dropped atomic.Bool
}

// NewStream returns a stream giving each subscriber buffer pending events.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 256
	}
	return &Stream{buffer: buffer, subs: make(map[int]*subscriber)}
}

// Emit implements events.Emitter.
func (s *Stream) Emit(evt events.Event) {
	out := StreamEvent{Seq: s.seq.Add(1), Type: evt.EventType()}
	if payload, ok := events.Payload(evt); ok {
		out.Attributes = payload.Attributes
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if !sub.wants(out.Type) {
			continue
		}
		select {
		case sub.ch <- out:
		default:
			sub.dropped.Store(true)
			close(sub.ch)
			delete(s.subs, id)
		}
	}
}

// Subscribe registers a subscriber for the given type prefixes; none means
// every event. The cancel function unregisters it.
func (s *Stream) Subscribe(prefixes []string) (<-chan StreamEvent, func() bool) {
	sub := &subscriber{ch: make(chan StreamEvent, s.buffer)}
	if len(prefixes) > 0 {
		sub.filter = make(map[string]struct{}, len(prefixes))
		for _, p := range prefixes {
			if p = strings.TrimSpace(p); p != "" {
				sub.filter[p] = struct{}{}
			}
		}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	cancel := func() bool {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub.ch)
			}
		})
		return sub.dropped.Load()
	}
	return sub.ch, cancel
}

// Subscribers reports the number of connected subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (sub *subscriber) wants(eventType string) bool {
	if len(sub.filter) == 0 {
		return true
	}
	for prefix := range sub.filter {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var prefixes []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		prefixes = strings.Split(raw, ",")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := s.stream.Subscribe(prefixes)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	err = s.streamEvents(ctx, conn, updates)
	if errors.Is(err, errSubscriberDropped) && cancel() {
		s.logger.Warn("dropping slow event subscriber", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan StreamEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return errSubscriberDropped
			}
			if err := writeStreamEvent(ctx, conn, evt, s.cfg.WriteTimeout); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt StreamEvent, timeout time.Duration) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
