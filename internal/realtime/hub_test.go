package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
)

func startHub(t *testing.T, config HubConfig) *Hub {
	t.Helper()

	config.Addr = "127.0.0.1:0"
	hub := NewHub(config)
	if err := hub.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Stop() })
	return hub
}

func hubURL(hub *Hub) string {
	return "ws://" + hub.Addr() + "/realtime/v1/websocket"
}

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	return signed
}

func TestHub_HealthEndpoint(t *testing.T) {
	hub := startHub(t, HubConfig{})

	resp, err := http.Get("http://" + hub.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestWebsocketSubscriber_ReceivesBroadcast(t *testing.T) {
	hub := startHub(t, HubConfig{})
	ws := NewWebsocketSubscriber(WebsocketConfig{URL: hubURL(hub), APIKey: "anon"})

	var signals atomic.Int32
	topic := Topic{Table: "tasks", UserID: "u1"}

	sub, err := ws.Subscribe(context.Background(), topic, func() { signals.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Unsubscribe()

	if got := hub.Members(topic); got != 1 {
		t.Fatalf("Members() = %d, want 1", got)
	}

	hub.Broadcast(Topic{Table: "tasks", UserID: "someone-else"})
	hub.Broadcast(topic)
	waitFor(t, "change signal", func() bool { return signals.Load() >= 1 })

	time.Sleep(50 * time.Millisecond)
	if got := signals.Load(); got != 1 {
		t.Errorf("signals = %d, want 1 (other users' changes must not arrive)", got)
	}
}

func TestWebsocketSubscriber_UnsubscribeLeaves(t *testing.T) {
	hub := startHub(t, HubConfig{})
	ws := NewWebsocketSubscriber(WebsocketConfig{URL: hubURL(hub)})
	topic := Topic{Table: "rituals", UserID: "u1"}

	sub, err := ws.Subscribe(context.Background(), topic, func() {})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe() failed: %v", err)
	}

	waitFor(t, "client removal", func() bool { return hub.ClientCount() == 0 })
	if got := hub.Members(topic); got != 0 {
		t.Errorf("Members() = %d, want 0", got)
	}
}

func TestWebsocketSubscriber_JoinRequiresValidToken(t *testing.T) {
	secret := []byte("relay-secret")
	hub := startHub(t, HubConfig{JWTSecret: secret})
	topic := Topic{Table: "projects", UserID: "u1"}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"no token", "", true},
		{"wrong subject", signToken(t, secret, "u2"), true},
		{"wrong secret", signToken(t, []byte("other"), "u1"), true},
		{"valid", signToken(t, secret, "u1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.token
			ws := NewWebsocketSubscriber(WebsocketConfig{
				URL:         hubURL(hub),
				AccessToken: func() string { return token },
				JoinTimeout: 2 * time.Second,
			})

			sub, err := ws.Subscribe(context.Background(), topic, func() {})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Subscribe() err = %v, wantErr %v", err, tt.wantErr)
			}
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		})
	}
}

func TestHub_HeartbeatReply(t *testing.T) {
	hub := startHub(t, HubConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, hubURL(hub), nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	req := message{Topic: heartbeatTopic, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: "7"}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	var reply message
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if reply.Event != eventReply || reply.Ref != "7" {
		t.Errorf("reply = %+v, want phx_reply with ref 7", reply)
	}
}

func TestHub_UpstreamFollowsMembership(t *testing.T) {
	upstream := newFakeSubscriber()
	hub := startHub(t, HubConfig{Upstream: upstream})
	topic := Topic{Table: "tasks", UserID: "u1"}

	var signals atomic.Int32
	ws := NewWebsocketSubscriber(WebsocketConfig{URL: hubURL(hub)})

	first, err := ws.Subscribe(context.Background(), topic, func() { signals.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	second, err := ws.Subscribe(context.Background(), topic, func() { signals.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if got := upstream.subscriptions(); got != 1 {
		t.Errorf("upstream subscriptions = %d, want 1 shared by both clients", got)
	}

	upstream.fire(topic.Channel())
	waitFor(t, "relayed signals", func() bool { return signals.Load() == 2 })

	_ = first.Unsubscribe()
	waitFor(t, "first leave", func() bool { return hub.Members(topic) == 1 })
	if got := upstream.active(); got != 1 {
		t.Errorf("upstream released while a member remains")
	}

	_ = second.Unsubscribe()
	waitFor(t, "upstream release", func() bool { return upstream.active() == 0 })
}

// gatedSubscriber blocks every Subscribe until release is closed or the
// caller's context ends, like a pool waiting for a free connection.
type gatedSubscriber struct {
	release chan struct{}
	started chan struct{}
	fake    *fakeSubscriber
}

func newGatedSubscriber() *gatedSubscriber {
	return &gatedSubscriber{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
		fake:    newFakeSubscriber(),
	}
}

func (g *gatedSubscriber) Subscribe(ctx context.Context, topic Topic, notify func()) (Subscription, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return g.fake.Subscribe(ctx, topic, notify)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sendJoin(t *testing.T, ctx context.Context, hub *Hub, topic Topic, ref string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, hubURL(hub), nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	join := message{
		Topic:   wireTopic(topic),
		Event:   eventJoin,
		Payload: rawJSON(newJoinPayload(topic, "")),
		Ref:     ref,
	}
	if err := wsjson.Write(ctx, conn, join); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	return conn
}

func TestHub_SlowUpstreamDoesNotBlockOtherRequests(t *testing.T) {
	upstream := newGatedSubscriber()
	hub := startHub(t, HubConfig{Upstream: upstream})
	topic := Topic{Table: "tasks", UserID: "u1"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := sendJoin(t, ctx, hub, topic, "1")
	select {
	case <-upstream.started:
	case <-ctx.Done():
		t.Fatal("upstream Subscribe was never called")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + hub.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health while upstream is pending: %v", err)
	}
	resp.Body.Close()

	// A second member of the pending topic waits for the same subscription.
	second := sendJoin(t, ctx, hub, topic, "2")
	waitFor(t, "both members", func() bool { return hub.Members(topic) == 2 })

	close(upstream.release)
	for _, c := range []*websocket.Conn{first, second} {
		var reply message
		if err := wsjson.Read(ctx, c, &reply); err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		var payload replyPayload
		if err := json.Unmarshal(reply.Payload, &payload); err != nil || payload.Status != "ok" {
			t.Errorf("join reply = %s, want status ok", reply.Payload)
		}
	}
	if got := upstream.fake.subscriptions(); got != 1 {
		t.Errorf("upstream subscriptions = %d, want 1", got)
	}
}

func TestHub_PendingUpstreamReleasedWhenMemberDisconnects(t *testing.T) {
	upstream := newGatedSubscriber()
	hub := startHub(t, HubConfig{Upstream: upstream})
	topic := Topic{Table: "rituals", UserID: "u1"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := sendJoin(t, ctx, hub, topic, "1")
	<-upstream.started
	_ = conn.CloseNow()

	close(upstream.release)
	waitFor(t, "client removed", func() bool { return hub.ClientCount() == 0 })
	waitFor(t, "upstream released", func() bool {
		return upstream.fake.subscriptions() == 1 && upstream.fake.active() == 0
	})
	if got := hub.Members(topic); got != 0 {
		t.Errorf("Members() = %d after the only member left", got)
	}
}
