// Package realtime delivers server-pushed change notifications to the sync
// engine.
//
// A Subscriber turns one Topic (a table filtered to one user) into a stream
// of undifferentiated "something changed" signals. Three transports exist:
//
//   - WebsocketSubscriber joins a channel on a websocket relay (Hub or a
//     compatible realtime server)
//   - PostgresSubscriber LISTENs on the channel the remote triggers NOTIFY
//   - RedisSubscriber subscribes to a Redis pub/sub channel
//
// The Listener owns the subscriptions for the current user and feeds every
// signal into a per-table work queue that coalesces bursts before
// triggering a synchronization.
package realtime

import (
	"context"
	"strings"

	"github.com/mschirtzinger/flowsync/internal/remote"
)

// Topic identifies the rows of one table owned by one user.
type Topic struct {
	Table  string
	UserID string
}

// Channel is the notification channel name shared by every transport.
func (t Topic) Channel() string {
	return remote.NotifyChannel(t.Table, t.UserID)
}

// ParseChannel is the inverse of Topic.Channel.
func ParseChannel(channel string) (Topic, bool) {
	table, userID, ok := strings.Cut(channel, ":")
	if !ok || table == "" || userID == "" {
		return Topic{}, false
	}
	return Topic{Table: table, UserID: userID}, true
}

// Subscriber creates subscriptions on one transport.
type Subscriber interface {
	// Subscribe starts delivering change signals for topic to notify. notify
	// must not block; it is called from the transport's receive goroutine.
	// The subscription stays active until Unsubscribe or until ctx is done.
	Subscribe(ctx context.Context, topic Topic, notify func()) (Subscription, error)
}

// Subscription is a live subscription.
type Subscription interface {
	// Unsubscribe stops delivery and releases the transport resources. It
	// is safe to call more than once.
	Unsubscribe() error
}

// Publisher announces that rows of a topic changed. Transports without
// server-side triggers use it so that other devices learn about uploads.
type Publisher interface {
	Publish(ctx context.Context, topic Topic) error
}
