package ogs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/domain"
	pkgerrors "github.com/poonpunokok/gtp2ogs/internal/errors"
)

const (
	reconnectBackoff = 5 * time.Second
	writeTimeout     = 10 * time.Second
)

// Handler consumes the server's event stream. All callbacks run on the
// socket's read goroutine.
type Handler interface {
	OnConnect()
	OnDisconnect()
	OnNotification(n domain.Notification)
	OnActiveGame(g domain.ActiveGame)
}

// frame is the wire shape in both directions. Replies to Call echo the
// request id; pushes carry only an event.
type frame struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Socket is the realtime connection to the server. It exclusively owns
// the websocket; all other components write through it.
type Socket struct {
	url     string
	log     *zap.SugaredLogger
	handler Handler

	writeMu sync.Mutex
	conn    *websocket.Conn

	// pending request/reply slots for Call, keyed by request id.
	pending sync.Map // map[string]chan json.RawMessage

	mu        sync.Mutex
	connected bool
}

func NewSocket(url string, handler Handler, log *zap.SugaredLogger) *Socket {
	return &Socket{
		url:     url,
		handler: handler,
		log:     log,
	}
}

// Run dials the server and pumps events until the context ends,
// reconnecting with a fixed backoff on socket loss.
func (s *Socket) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			s.log.Errorf("socket closed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (s *Socket) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Infof("connected to %s", s.url)
	s.handler.OnConnect()

	defer func() {
		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		s.failPending()
		s.handler.OnDisconnect()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(payload)
	}
}

func (s *Socket) dispatch(payload []byte) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		s.log.Warnf("undecodable server frame: %v", err)
		return
	}

	if f.ID != "" {
		if ch, ok := s.pending.LoadAndDelete(f.ID); ok {
			ch.(chan json.RawMessage) <- f.Data
		} else {
			s.log.Debugf("reply for unknown call id %s", f.ID)
		}
		return
	}

	switch f.Event {
	case "notification":
		var n domain.Notification
		if err := json.Unmarshal(f.Data, &n); err != nil {
			s.log.Warnf("bad notification payload: %v", err)
			return
		}
		n.Raw = f.Data
		s.handler.OnNotification(n)
	case "active_game":
		var g domain.ActiveGame
		if err := json.Unmarshal(f.Data, &g); err != nil {
			s.log.Warnf("bad active_game payload: %v", err)
			return
		}
		s.handler.OnActiveGame(g)
	default:
		s.log.Debugf("unhandled server event %q", f.Event)
	}
}

// Send emits a fire-and-forget message.
func (s *Socket) Send(event string, data any) error {
	return s.write(frame{Event: event, Data: marshal(data)})
}

// Call emits a message and waits for the server's reply to it.
func (s *Socket) Call(ctx context.Context, event string, data any) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := make(chan json.RawMessage, 1)
	s.pending.Store(id, ch)

	if err := s.write(frame{ID: id, Event: event, Data: marshal(data)}); err != nil {
		s.pending.Delete(id)
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, pkgerrors.ErrNotConnected
		}
		return reply, nil
	case <-ctx.Done():
		s.pending.Delete(id)
		return nil, ctx.Err()
	}
}

func (s *Socket) write(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return pkgerrors.ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

// failPending closes every outstanding Call slot on disconnect.
func (s *Socket) failPending() {
	s.pending.Range(func(key, value any) bool {
		s.pending.Delete(key)
		close(value.(chan json.RawMessage))
		return true
	})
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func marshal(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}
