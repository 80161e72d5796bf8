// Package realtime is the WebSocket transport adapter: it bridges the room
// bus and the orchestrator RPC surface onto a single socket. The first frame
// after a subscribe is always the room snapshot; a client that gets dropped
// for backpressure must resubscribe and will receive a fresh one.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/auth"
	"github.com/benchay1999/find-the-ai/internal/bus"
	"github.com/benchay1999/find-the-ai/internal/observability"
	"github.com/benchay1999/find-the-ai/internal/room"
	"github.com/benchay1999/find-the-ai/internal/types"
)

type WSMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	RoomCode string `json:"room_code"`
}

type CommandPayload struct {
	RoomCode string `json:"room_code"`
	Type     string `json:"type"`
	PlayerID string `json:"player_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Target   string `json:"target,omitempty"`
	Passcode string `json:"passcode,omitempty"`
}

type WSServer struct {
	upgrader websocket.Upgrader
	jwt      *auth.JWTManager
	registry *room.Registry
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewWSServer(jwt *auth.JWTManager, registry *room.Registry, logger *zap.Logger, metrics *observability.Metrics, readBuf, writeBuf int) *WSServer {
	return &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		jwt:      jwt,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

func (ws *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := ws.jwt.Parse(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	sessionID := uuid.NewString()
	session := &Session{
		id:       sessionID,
		humanKey: claims.HumanKey,
		conn:     conn,
		registry: ws.registry,
		logger:   ws.logger.With(zap.String("session_id", sessionID), zap.String("human_key", claims.HumanKey)),
		send:     make(chan []byte, 64),
		limiter:  NewTokenBucket(10, 2),
	}
	ws.metrics.ActiveConnections.Inc()
	go session.writePump()
	session.readPump()
	ws.metrics.ActiveConnections.Dec()
}

type Session struct {
	id       string
	humanKey string
	conn     *websocket.Conn
	registry *room.Registry
	logger   *zap.Logger
	send     chan []byte
	limiter  *TokenBucket

	mu      sync.Mutex
	subRoom *room.Room
	sub     *bus.Subscription
}

func (s *Session) readPump() {
	defer func() {
		s.detach()
		s.conn.Close()
	}()
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if !s.limiter.Allow() {
			s.sendError("", string(types.ErrRateLimited), "too many requests")
			continue
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("", string(types.ErrInvalidParams), "invalid json")
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "ping":
		pongPayload := msg.Payload
		if len(pongPayload) == 0 {
			pongPayload = json.RawMessage("{}")
		}
		s.sendRaw(WSMessage{Type: "pong", RequestID: msg.RequestID, Payload: pongPayload})
	case "subscribe":
		var payload SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.sendError(msg.RequestID, string(types.ErrInvalidParams), "invalid subscribe payload")
			return
		}
		s.handleSubscribe(msg.RequestID, payload)
	case "command":
		var payload CommandPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.sendError(msg.RequestID, string(types.ErrInvalidParams), "invalid command payload")
			return
		}
		s.handleCommand(msg.RequestID, payload)
	default:
		s.sendError(msg.RequestID, string(types.ErrInvalidParams), "unknown message type")
	}
}

func (s *Session) handleSubscribe(reqID string, payload SubscribePayload) {
	rm, err := s.registry.Get(payload.RoomCode)
	if err != nil {
		s.sendError(reqID, string(types.CodeOf(err)), err.Error())
		return
	}
	sub, err := rm.Subscribe(s.humanKey)
	if err != nil {
		s.sendError(reqID, string(types.CodeOf(err)), err.Error())
		return
	}

	s.detach()
	s.mu.Lock()
	s.subRoom = rm
	s.sub = sub
	s.mu.Unlock()

	go s.forward(sub)
	s.sendRaw(WSMessage{Type: "subscribed", RequestID: reqID, Payload: json.RawMessage(`{"status":"ok"}`)})
}

// forward pumps bus events onto the socket. A closed subscription means the
// room terminated or this client fell too far behind; either way the client
// must resubscribe for a fresh snapshot.
func (s *Session) forward(sub *bus.Subscription) {
	for ev := range sub.C {
		b, _ := json.Marshal(WSMessage{Type: "event", Payload: mustMarshal(ev)})
		select {
		case s.send <- b:
		default:
		}
	}
	s.mu.Lock()
	current := s.sub == sub
	if current {
		s.sub = nil
		s.subRoom = nil
	}
	s.mu.Unlock()
	if current {
		s.sendRaw(WSMessage{Type: "resync_required", Payload: json.RawMessage(`{}`)})
	}
}

func (s *Session) handleCommand(reqID string, payload CommandPayload) {
	rm, err := s.registry.Get(payload.RoomCode)
	if err != nil {
		s.sendError(reqID, string(types.CodeOf(err)), err.Error())
		return
	}
	ctx := context.Background()
	switch payload.Type {
	case "join":
		playerID, err := rm.Join(ctx, s.humanKey, payload.Passcode)
		if err != nil {
			s.sendError(reqID, string(types.CodeOf(err)), err.Error())
			return
		}
		s.sendRaw(WSMessage{Type: "command_result", RequestID: reqID, Payload: mustMarshal(map[string]string{"player_id": playerID})})
	case "leave":
		err = rm.Leave(ctx, payload.PlayerID)
		s.sendResult(reqID, err)
	case "message":
		err = rm.SendMessage(ctx, payload.PlayerID, payload.Text)
		s.sendResult(reqID, err)
	case "vote":
		err = rm.Vote(ctx, payload.PlayerID, payload.Target)
		s.sendResult(reqID, err)
	default:
		s.sendError(reqID, string(types.ErrInvalidParams), "unknown command type")
	}
}

func (s *Session) detach() {
	s.mu.Lock()
	rm, sub := s.subRoom, s.sub
	s.subRoom, s.sub = nil, nil
	s.mu.Unlock()
	if rm != nil && sub != nil {
		rm.Unsubscribe(sub.ID)
	}
}

func (s *Session) sendResult(reqID string, err error) {
	if err != nil {
		s.sendError(reqID, string(types.CodeOf(err)), err.Error())
		return
	}
	s.sendRaw(WSMessage{Type: "command_result", RequestID: reqID, Payload: json.RawMessage(`{"status":"ok"}`)})
}

func (s *Session) sendError(reqID, code, message string) {
	payload := map[string]string{"code": code, "message": message}
	s.sendRaw(WSMessage{Type: "error", RequestID: reqID, Payload: mustMarshal(payload)})
}

func (s *Session) sendRaw(msg WSMessage) {
	b, _ := json.Marshal(msg)
	select {
	case s.send <- b:
	default:
	}
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: rate, lastTime: time.Now()}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}
