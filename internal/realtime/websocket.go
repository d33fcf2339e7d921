package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebsocketConfig holds configuration for the websocket transport.
type WebsocketConfig struct {
	// URL of the realtime endpoint, e.g. wss://host/realtime/v1/websocket
	URL string

	// APIKey is sent as the apikey query parameter when set
	APIKey string

	// AccessToken returns the token sent with every join. Optional.
	AccessToken func() string

	// Heartbeat is the interval between keepalive frames (default: 30s)
	Heartbeat time.Duration

	// JoinTimeout bounds dialing and waiting for the join reply (default: 10s)
	JoinTimeout time.Duration

	// MaxBackoff caps the wait between reconnect attempts (default: 30s)
	MaxBackoff time.Duration

	// Logger for transport activity (default: no-op)
	Logger *zap.Logger
}

// WebsocketSubscriber opens one websocket connection per topic and joins
// the topic's channel on it. A dropped connection is re-established with
// backoff and followed by one signal, since changes may have been missed.
type WebsocketSubscriber struct {
	config WebsocketConfig
	logger *zap.Logger
}

// NewWebsocketSubscriber creates a websocket transport.
func NewWebsocketSubscriber(config WebsocketConfig) *WebsocketSubscriber {
	if config.Heartbeat <= 0 {
		config.Heartbeat = 30 * time.Second
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 10 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &WebsocketSubscriber{
		config: config,
		logger: config.Logger.Named("websocket"),
	}
}

// Subscribe implements Subscriber.
func (s *WebsocketSubscriber) Subscribe(ctx context.Context, topic Topic, notify func()) (Subscription, error) {
	conn, err := s.connect(ctx, topic)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		subscriber: s,
		topic:      topic,
		notify:     notify,
		conn:       conn,
		cancel:     cancel,
	}

	sub.wg.Add(1)
	go sub.run(subCtx)
	return sub, nil
}

// connect dials the endpoint and joins topic's channel.
func (s *WebsocketSubscriber) connect(ctx context.Context, topic Topic) (*websocket.Conn, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	if s.config.APIKey != "" {
		q.Set("apikey", s.config.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, s.config.JoinTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Host, err)
	}

	var token string
	if s.config.AccessToken != nil {
		token = s.config.AccessToken()
	}

	name := wireTopic(topic)
	ref := uuid.NewString()
	join := message{
		Topic:   name,
		Event:   eventJoin,
		Payload: rawJSON(newJoinPayload(topic, token)),
		Ref:     ref,
	}
	if err := wsjson.Write(dialCtx, conn, join); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("failed to join %s: %w", name, err)
	}

	for {
		var msg message
		if err := wsjson.Read(dialCtx, conn, &msg); err != nil {
			_ = conn.CloseNow()
			return nil, fmt.Errorf("no join reply for %s: %w", name, err)
		}
		if msg.Event != eventReply || msg.Ref != ref {
			continue
		}

		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			_ = conn.CloseNow()
			return nil, fmt.Errorf("malformed join reply for %s: %w", name, err)
		}
		if reply.Status != "ok" {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return nil, fmt.Errorf("join %s rejected: %s", name, string(reply.Response))
		}

		s.logger.Debug("Joined channel", zap.String("topic", name))
		return conn, nil
	}
}

type wsSubscription struct {
	subscriber *WebsocketSubscriber
	topic      Topic
	notify     func()

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Unsubscribe implements Subscription.
func (w *wsSubscription) Unsubscribe() error {
	w.once.Do(func() {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		if conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = wsjson.Write(ctx, conn, message{
				Topic:   wireTopic(w.topic),
				Event:   eventLeave,
				Payload: json.RawMessage(`{}`),
				Ref:     uuid.NewString(),
			})
			cancel()
		}

		w.cancel()
		w.wg.Wait()
	})
	return nil
}

// run serves the connection and reconnects until the subscription ends.
func (w *wsSubscription) run(ctx context.Context) {
	defer w.wg.Done()

	s := w.subscriber
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		err := w.serve(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Realtime connection lost",
			zap.String("channel", w.topic.Channel()),
			zap.Error(err),
		)

		conn, ok := w.reconnect(ctx)
		if !ok {
			return
		}
		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()

		// Changes may have happened while disconnected
		w.notify()
	}
}

func (w *wsSubscription) reconnect(ctx context.Context) (*websocket.Conn, bool) {
	s := w.subscriber
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}

		conn, err := s.connect(ctx, w.topic)
		if err == nil {
			s.logger.Info("Realtime connection restored", zap.String("channel", w.topic.Channel()))
			return conn, true
		}
		s.logger.Debug("Reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))

		backoff *= 2
		if backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}
}

// serve reads frames until the connection fails or ctx is done.
func (w *wsSubscription) serve(ctx context.Context, conn *websocket.Conn) error {
	name := wireTopic(w.topic)

	hbCtx, stop := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeat(hbCtx, conn)
	}()
	defer func() {
		stop()
		<-hbDone
	}()

	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Topic != name {
			continue
		}

		switch msg.Event {
		case eventChanges, "INSERT", "UPDATE", "DELETE":
			w.notify()
		case eventError, eventClose:
			return fmt.Errorf("channel closed by server (%s)", msg.Event)
		}
	}
}

func (w *wsSubscription) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(w.subscriber.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, message{
				Topic:   heartbeatTopic,
				Event:   eventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     uuid.NewString(),
			})
			cancel()
			if err != nil {
				return
			}
		}
	}
}
