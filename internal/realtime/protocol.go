package realtime

import (
	"encoding/json"
	"strings"
)

// Websocket frames follow the Phoenix channel envelope used by hosted
// realtime servers, so the subscriber works against those and against Hub.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"

	heartbeatTopic = "phoenix"
	topicPrefix    = "realtime:"
)

// joinPayload asks for row changes of one table filtered to one user.
type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// changePayload is what Hub sends on a change. Hosted servers send more
// fields; the subscriber only looks at the event name.
type changePayload struct {
	Data changeData `json:"data"`
}

type changeData struct {
	Table string `json:"table"`
	Type  string `json:"type"`
}

func wireTopic(t Topic) string {
	return topicPrefix + t.Channel()
}

func parseWireTopic(s string) (Topic, bool) {
	channel, ok := strings.CutPrefix(s, topicPrefix)
	if !ok {
		return Topic{}, false
	}
	return ParseChannel(channel)
}

func newJoinPayload(t Topic, accessToken string) joinPayload {
	return joinPayload{
		Config: joinConfig{
			PostgresChanges: []changeFilter{{
				Event:  "*",
				Schema: "public",
				Table:  t.Table,
				Filter: "user_id=eq." + t.UserID,
			}},
		},
		AccessToken: accessToken,
	}
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
