package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// ErrConnectionLost is reported to live subscriptions when the realtime
// connection drops.
var ErrConnectionLost = errors.New("realtime connection lost")

type sub struct {
	onNext  func([]*driver.RawDoc)
	onError func(error)
}

// stream is the client side of one realtime connection. All pushes are
// dispatched from a single reader goroutine.
type stream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*sub
	done    chan struct{}
	closing bool
}

// dial connects and authenticates.
func dial(ctx context.Context, dialer *websocket.Dialer, wsURL, token string, logger *slog.Logger) (*stream, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	authID := uuid.NewString()
	if err := conn.WriteJSON(BaseMessage{ID: authID, Type: TypeAuth, Payload: mustMarshal(AuthPayload{Token: token})}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	var ack BaseMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	if ack.Type != TypeAuthAck {
		conn.Close()
		return nil, payloadError(ack)
	}
	conn.SetWriteDeadline(time.Time{})
	conn.SetReadDeadline(time.Time{})

	s := &stream{
		conn:   conn,
		logger: logger,
		subs:   make(map[string]*sub),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	logger.Debug("Realtime connection established")
	return s, nil
}

func payloadError(msg BaseMessage) error {
	var payload ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("unexpected %s message", msg.Type)
	}
	return decodeError(0, APIError(payload))
}

func (s *stream) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) send(msg BaseMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *stream) lookup(id string) *sub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

func (s *stream) readLoop() {
	for {
		var msg BaseMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(err)
			return
		}
		switch msg.Type {
		case TypeSnapshot:
			var payload SnapshotPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				s.logger.Warn("Failed to decode snapshot", "error", err)
				continue
			}
			if sb := s.lookup(payload.SubID); sb != nil {
				if payload.Documents == nil {
					payload.Documents = []*driver.RawDoc{}
				}
				sb.onNext(payload.Documents)
			}
		case TypeError:
			if sb := s.lookup(msg.ID); sb != nil {
				sb.onError(model.WrapDriverError("subscribe", payloadError(msg)))
			} else {
				s.logger.Warn("Realtime error", "id", msg.ID, "error", payloadError(msg))
			}
		default:
			s.logger.Debug("Realtime message", "type", msg.Type, "id", msg.ID)
		}
	}
}

// fail ends the stream and reports the loss to every live subscription.
func (s *stream) fail(err error) {
	s.mu.Lock()
	close(s.done)
	subs := s.subs
	s.subs = make(map[string]*sub)
	closing := s.closing
	s.mu.Unlock()
	s.conn.Close()

	if closing {
		return
	}
	s.logger.Warn("Realtime connection lost", "error", err, "subscriptions", len(subs))
	for _, sb := range subs {
		sb.onError(model.WrapDriverError("subscribe", fmt.Errorf("%w: %v", ErrConnectionLost, err)))
	}
}

func (s *stream) subscribe(req model.Request, onNext func([]*driver.RawDoc), onError func(error)) (driver.Unsubscribe, error) {
	id := uuid.NewString()
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return nil, ErrConnectionLost
	}
	s.subs[id] = &sub{onNext: onNext, onError: onError}
	s.mu.Unlock()

	if err := s.send(BaseMessage{ID: id, Type: TypeSubscribe, Payload: mustMarshal(SubscribePayload{Request: req})}); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return nil, err
	}
	s.logger.Debug("Subscription started", "sub_id", id, "request", req.String())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			if s.isDone() {
				return
			}
			if err := s.send(BaseMessage{ID: uuid.NewString(), Type: TypeUnsubscribe, Payload: mustMarshal(UnsubscribePayload{ID: id})}); err != nil {
				s.logger.Warn("Failed to unsubscribe", "sub_id", id, "error", err)
			}
		})
	}, nil
}

func (s *stream) close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	s.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
