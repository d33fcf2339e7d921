package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// HubConfig holds relay configuration.
type HubConfig struct {
	// Addr to listen on (default: ":4000")
	Addr string

	// Upstream is subscribed once per joined topic and every signal it
	// delivers is broadcast to the topic's clients. Optional.
	Upstream Subscriber

	// JWTSecret, when set, requires every join to carry an HS256 access
	// token whose subject is the topic's user.
	JWTSecret []byte

	// Logger for relay activity (default: no-op)
	Logger *zap.Logger
}

// Hub is a websocket relay that fans change notifications out to the
// devices that joined a topic.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	upstream Subscriber
	secret   []byte

	// topic and client bookkeeping, keyed by wire topic
	topics  map[string]*hubTopic
	clients map[*websocket.Conn]map[string]bool
	mu      sync.RWMutex

	broadcast chan Topic

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

type hubTopic struct {
	topic    Topic
	members  map[*websocket.Conn]bool
	upstream Subscription

	// ready is closed once the upstream subscription settled; err is its
	// outcome. Both are nil without an upstream.
	ready chan struct{}
	err   error
}

// NewHub creates a relay. Call Start to begin serving.
func NewHub(config HubConfig) *Hub {
	if config.Addr == "" {
		config.Addr = ":4000"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		addr:      config.Addr,
		upstream:  config.Upstream,
		secret:    config.JWTSecret,
		topics:    make(map[string]*hubTopic),
		clients:   make(map[*websocket.Conn]map[string]bool),
		broadcast: make(chan Topic, 256),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger.Named("hub"),
	}
}

// Start begins the HTTP server and websocket handler.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go h.broadcastLoop()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Info("Relay listening", zap.String("addr", ln.Addr().String()))
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Server error", zap.Error(err))
		}
	}()

	return nil
}

// Handler returns the relay's HTTP routes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", h.handleWebSocket)
	mux.HandleFunc("/realtime/v1/websocket", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Stop closes every client and upstream subscription and shuts the server
// down.
func (h *Hub) Stop() error {
	h.logger.Info("Stopping relay")
	h.cancel()

	h.mu.Lock()
	var (
		conns    []*websocket.Conn
		upstream []Subscription
	)
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	for name, t := range h.topics {
		if t.upstream != nil {
			upstream = append(upstream, t.upstream)
		}
		delete(h.topics, name)
	}
	h.clients = make(map[*websocket.Conn]map[string]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
	}
	for _, sub := range upstream {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to release upstream subscription", zap.Error(err))
		}
	}

	var shutdownErr error
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	h.wg.Wait()
	h.logger.Info("Relay stopped")
	return shutdownErr
}

// Broadcast queues a change signal for every client joined to topic.
func (h *Hub) Broadcast(topic Topic) {
	select {
	case h.broadcast <- topic:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("Broadcast queue full, dropping signal", zap.String("channel", topic.Channel()))
	}
}

// Publish implements Publisher so a device can announce its own uploads.
func (h *Hub) Publish(_ context.Context, topic Topic) error {
	h.Broadcast(topic)
	return nil
}

// Addr returns the listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Members returns how many clients joined topic.
func (h *Hub) Members(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t, ok := h.topics[wireTopic(topic)]; ok {
		return len(t.members)
	}
	return 0
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case topic := <-h.broadcast:
			name := wireTopic(topic)
			data, err := json.Marshal(message{
				Topic:   name,
				Event:   eventChanges,
				Payload: rawJSON(changePayload{Data: changeData{Table: topic.Table, Type: "*"}}),
			})
			if err != nil {
				h.logger.Error("Failed to marshal change", zap.Error(err))
				continue
			}

			h.mu.RLock()
			var members []*websocket.Conn
			if t, ok := h.topics[name]; ok {
				for conn := range t.members {
					members = append(members, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range members {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("Failed to send to client", zap.Error(err))
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = make(map[string]bool)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("Client connected", zap.Int("clients", count))
	h.readLoop(conn)
}

// readLoop serves one client until it disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		var msg message
		if err := wsjson.Read(h.ctx, conn, &msg); err != nil {
			return
		}

		switch {
		case msg.Topic == heartbeatTopic && msg.Event == eventHeartbeat:
			h.reply(conn, msg, "ok", nil)

		case msg.Event == eventJoin:
			if err := h.join(conn, msg); err != nil {
				h.logger.Debug("Join rejected", zap.String("topic", msg.Topic), zap.Error(err))
				h.reply(conn, msg, "error", map[string]string{"reason": err.Error()})
				continue
			}
			h.reply(conn, msg, "ok", nil)

		case msg.Event == eventLeave:
			h.leave(conn, msg.Topic)
			h.reply(conn, msg, "ok", nil)

		default:
			h.reply(conn, msg, "error", map[string]string{"reason": "unknown event " + msg.Event})
		}
	}
}

func (h *Hub) join(conn *websocket.Conn, msg message) error {
	topic, ok := parseWireTopic(msg.Topic)
	if !ok {
		return fmt.Errorf("malformed topic %q", msg.Topic)
	}

	var payload joinPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("malformed join payload: %w", err)
		}
	}
	if err := h.authorize(topic, payload.AccessToken); err != nil {
		return err
	}

	h.mu.Lock()
	joined, ok := h.clients[conn]
	if !ok {
		h.mu.Unlock()
		return errors.New("client disconnected")
	}
	t, exists := h.topics[msg.Topic]
	if !exists {
		t = &hubTopic{topic: topic, members: make(map[*websocket.Conn]bool)}
		if h.upstream != nil {
			t.ready = make(chan struct{})
		}
		h.topics[msg.Topic] = t
	}
	t.members[conn] = true
	joined[msg.Topic] = true
	h.mu.Unlock()

	if t.ready == nil {
		return nil
	}
	if exists {
		<-t.ready
		return t.err
	}
	return h.subscribeUpstream(msg.Topic, t)
}

// subscribeUpstream opens the upstream subscription for a freshly created
// topic. It runs without h.mu held since the upstream may block, for example
// while waiting for a pooled connection. Members joining meanwhile wait on
// t.ready.
func (h *Hub) subscribeUpstream(name string, t *hubTopic) error {
	topic := t.topic
	sub, err := h.upstream.Subscribe(h.ctx, topic, func() { h.Broadcast(topic) })

	h.mu.Lock()
	current := h.topics[name] == t
	var orphan Subscription
	switch {
	case err != nil:
		t.err = fmt.Errorf("upstream subscribe failed: %w", err)
		if current {
			delete(h.topics, name)
		}
		for conn := range t.members {
			if joined, ok := h.clients[conn]; ok {
				delete(joined, name)
			}
		}
		t.members = make(map[*websocket.Conn]bool)
	case current:
		t.upstream = sub
	default:
		// Every member left, or the hub stopped, while subscribing.
		orphan = sub
	}
	close(t.ready)
	h.mu.Unlock()

	if orphan != nil {
		if err := orphan.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to release upstream subscription", zap.String("topic", name), zap.Error(err))
		}
	}
	return t.err
}

func (h *Hub) authorize(topic Topic, token string) error {
	if len(h.secret) == 0 {
		return nil
	}
	if token == "" {
		return errors.New("access token required")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return h.secret, nil
		},
	)
	if err != nil {
		return fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Subject != topic.UserID {
		return errors.New("access token does not belong to topic user")
	}
	return nil
}

// leave removes conn from topic and releases the upstream subscription once
// the topic is empty.
func (h *Hub) leave(conn *websocket.Conn, name string) {
	h.mu.Lock()
	sub := h.leaveLocked(conn, name)
	h.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to release upstream subscription", zap.String("topic", name), zap.Error(err))
		}
	}
}

func (h *Hub) leaveLocked(conn *websocket.Conn, name string) Subscription {
	if joined, ok := h.clients[conn]; ok {
		delete(joined, name)
	}
	t, ok := h.topics[name]
	if !ok {
		return nil
	}
	delete(t.members, conn)
	if len(t.members) > 0 {
		return nil
	}
	delete(h.topics, name)
	return t.upstream
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	joined, exists := h.clients[conn]
	if !exists {
		h.mu.Unlock()
		return
	}
	var released []Subscription
	for name := range joined {
		if sub := h.leaveLocked(conn, name); sub != nil {
			released = append(released, sub)
		}
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	for _, sub := range released {
		_ = sub.Unsubscribe()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("Client disconnected", zap.Int("clients", count))
}

func (h *Hub) reply(conn *websocket.Conn, req message, status string, response any) {
	payload := replyPayload{Status: status}
	if response != nil {
		payload.Response = rawJSON(response)
	}

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	err := wsjson.Write(ctx, conn, message{
		Topic:   req.Topic,
		Event:   eventReply,
		Payload: rawJSON(payload),
		Ref:     req.Ref,
	})
	if err != nil {
		h.logger.Debug("Failed to reply", zap.String("event", req.Event), zap.Error(err))
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	clients := len(h.clients)
	topics := len(h.topics)
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clients,
		"topics":  topics,
	})
}
