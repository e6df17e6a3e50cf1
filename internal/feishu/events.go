package feishu

// ChatType distinguishes direct and group conversations in events.
type ChatType string

const (
	ChatP2P   ChatType = "p2p"
	ChatGroup ChatType = "group"
)

// MessageType is the inbound message payload kind.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageFile        MessageType = "file"
	MessageAudio       MessageType = "audio"
	MessageVideo       MessageType = "video"
	MessageInteractive MessageType = "interactive"
)

// EventTypeMessageReceive is the only v2 event type this gateway acts
// on; other recognized events are acknowledged without action.
const EventTypeMessageReceive = "im.message.receive_v1"

// EventSchemaV2 marks the v2 event envelope.
const EventSchemaV2 = "2.0"

type EventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Token      string `json:"token"`
	AppID      string `json:"app_id"`
	TenantKey  string `json:"tenant_key"`
}

type SenderID struct {
	OpenID  string `json:"open_id"`
	UserID  string `json:"user_id"`
	UnionID string `json:"union_id"`
}

// Best returns the most specific sender identifier available.
func (s SenderID) Best() string {
	switch {
	case s.OpenID != "":
		return s.OpenID
	case s.UserID != "":
		return s.UserID
	default:
		return s.UnionID
	}
}

type EventSender struct {
	SenderID   SenderID `json:"sender_id"`
	SenderType string   `json:"sender_type"`
	TenantKey  string   `json:"tenant_key"`
}

type EventMessage struct {
	MessageID   string      `json:"message_id"`
	RootID      string      `json:"root_id,omitempty"`
	ParentID    string      `json:"parent_id,omitempty"`
	CreateTime  string      `json:"create_time"`
	ChatID      string      `json:"chat_id"`
	ChatType    ChatType    `json:"chat_type"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
}

// MessageEvent is the decoded im.message.receive_v1 event.
type MessageEvent struct {
	Schema string      `json:"schema"`
	Header EventHeader `json:"header"`
	Event  struct {
		Sender  EventSender  `json:"sender"`
		Message EventMessage `json:"message"`
	} `json:"event"`
}
