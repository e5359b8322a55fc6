package remote

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syntrixbase/typestore/pkg/driver"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Send pings to peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients and origins on the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := strings.Split(u.Host, ":")[0]
	requestHost := strings.Split(r.Host, ":")[0]
	return strings.EqualFold(originHost, requestHost)
}

// peer is one realtime connection. Every subscription it holds is a driver
// subscription whose results are forwarded as snapshots.
type peer struct {
	srv    *Server
	conn   *websocket.Conn
	send   chan BaseMessage
	done   chan struct{}
	logger *slog.Logger

	mu            sync.Mutex
	authenticated bool
	subscriptions map[string]driver.Unsubscribe
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	p := &peer{
		srv:           s,
		conn:          conn,
		send:          make(chan BaseMessage, 256),
		done:          make(chan struct{}),
		logger:        s.logger.With("request_id", getRequestID(r.Context())),
		authenticated: s.token == "",
		subscriptions: make(map[string]driver.Unsubscribe),
	}
	go p.writePump()
	go p.readPump()
}

// push queues msg unless the connection is gone.
func (p *peer) push(msg BaseMessage) {
	select {
	case p.send <- msg:
	case <-p.done:
	}
}

func (p *peer) pushError(id, code, message string) {
	p.push(BaseMessage{ID: id, Type: TypeError, Payload: mustMarshal(ErrorPayload{Code: code, Message: message})})
}

func (p *peer) readPump() {
	defer func() {
		close(p.done)
		p.mu.Lock()
		for id, unsubscribe := range p.subscriptions {
			unsubscribe()
			delete(p.subscriptions, id)
		}
		p.mu.Unlock()
		p.conn.Close()
	}()
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error { p.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	p.logger.Debug("Realtime connection established")

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("Realtime connection closed", "error", err)
			} else {
				p.logger.Debug("Realtime connection closed")
			}
			return
		}
		var msg BaseMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			p.logger.Warn("Failed to unmarshal message", "error", err)
			continue
		}
		p.handleMessage(msg)
	}
}

func (p *peer) handleMessage(msg BaseMessage) {
	if msg.Type == TypeAuth {
		p.handleAuth(msg)
		return
	}
	p.mu.Lock()
	authenticated := p.authenticated
	p.mu.Unlock()
	if !authenticated {
		p.pushError(msg.ID, ErrCodeUnauthorized, "auth required")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		p.handleSubscribe(msg)
	case TypeUnsubscribe:
		var payload UnsubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			p.pushError(msg.ID, ErrCodeBadRequest, "invalid payload")
			return
		}
		p.mu.Lock()
		unsubscribe, ok := p.subscriptions[payload.ID]
		delete(p.subscriptions, payload.ID)
		p.mu.Unlock()
		if ok {
			unsubscribe()
		}
		p.logger.Debug("Unsubscribed", "sub_id", payload.ID)
		p.push(BaseMessage{ID: msg.ID, Type: TypeUnsubscribeAck})
	default:
		p.pushError(msg.ID, ErrCodeBadRequest, "unknown message type "+msg.Type)
	}
}

func (p *peer) handleAuth(msg BaseMessage) {
	var payload AuthPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		p.pushError(msg.ID, ErrCodeUnauthorized, "invalid payload")
		return
	}
	if !p.srv.checkToken(payload.Token) {
		p.pushError(msg.ID, ErrCodeUnauthorized, "invalid token")
		return
	}
	p.mu.Lock()
	p.authenticated = true
	p.mu.Unlock()
	p.push(BaseMessage{ID: msg.ID, Type: TypeAuthAck})
}

func (p *peer) handleSubscribe(msg BaseMessage) {
	var payload SubscribePayload
	if msg.ID == "" || json.Unmarshal(msg.Payload, &payload) != nil {
		p.pushError(msg.ID, ErrCodeBadRequest, "invalid subscribe payload")
		return
	}
	id := msg.ID

	p.mu.Lock()
	_, dup := p.subscriptions[id]
	p.mu.Unlock()
	if dup {
		p.pushError(id, ErrCodeBadRequest, "duplicate subscription id")
		return
	}

	// The ack goes out before the driver can push the first snapshot.
	p.push(BaseMessage{ID: id, Type: TypeSubscribeAck})
	unsubscribe, err := p.srv.drv.Subscribe(payload.Request,
		func(docs []*driver.RawDoc) {
			p.push(BaseMessage{ID: id, Type: TypeSnapshot, Payload: mustMarshal(SnapshotPayload{SubID: id, Documents: docs})})
		},
		func(err error) {
			_, code := classify(err)
			p.pushError(id, code, describe(err))
		},
	)
	if err != nil {
		_, code := classify(err)
		p.pushError(id, code, describe(err))
		return
	}

	p.mu.Lock()
	p.subscriptions[id] = unsubscribe
	p.mu.Unlock()
	p.logger.Debug("Subscribed", "sub_id", id, "request", payload.Request.String())
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
