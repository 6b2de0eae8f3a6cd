package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 客户端 -> 服务端
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "joinRoom"
	EventSendMessage  = "sendMessage"
	EventMarkAsRead   = "markAsRead"
	EventTyping       = "typing"
	EventStopTyping   = "stopTyping"
)

// 服务端 -> 客户端
const (
	EventAuthenticated     = "authenticated"
	EventAuthError         = "auth_error"
	EventRoomJoined        = "roomJoined"
	EventRoomError         = "room_error"
	EventReceiveMessage    = "receiveMessage"
	EventMessageError      = "message_error"
	EventMessageRead       = "messageRead"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event 线上传输的事件信封 {"event": name, "data": payload}
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

type inboundEnvelope struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// InboundEvent 客户端事件，每种事件一个具体类型
type InboundEvent interface {
	inbound()
}

type AuthenticateEvent struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

type JoinRoomEvent struct {
	TopicID string `json:"topicId"`
}

type SendMessageEvent struct {
	TopicID    string `json:"topicId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type MarkAsReadEvent struct {
	MessageID string `json:"messageId"`
}

type TypingEvent struct {
	TopicID string `json:"topicId"`
}

type StopTypingEvent struct {
	TopicID string `json:"topicId"`
}

func (AuthenticateEvent) inbound() {}
func (JoinRoomEvent) inbound()     {}
func (SendMessageEvent) inbound()  {}
func (MarkAsReadEvent) inbound()   {}
func (TypingEvent) inbound()       {}
func (StopTypingEvent) inbound()   {}

// DecodeInbound 在传输边界把原始帧解码为具体事件类型
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid event frame: %w", err)
	}

	var evt InboundEvent
	switch env.Name {
	case EventAuthenticate:
		evt = &AuthenticateEvent{}
	case EventJoinRoom:
		evt = &JoinRoomEvent{}
	case EventSendMessage:
		evt = &SendMessageEvent{}
	case EventMarkAsRead:
		evt = &MarkAsReadEvent{}
	case EventTyping:
		evt = &TypingEvent{}
	case EventStopTyping:
		evt = &StopTypingEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Name)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, evt); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Name, err)
		}
	}
	return evt, nil
}

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RoomJoinedPayload struct {
	TopicID  string `json:"topicId"`
	RoomName string `json:"roomName"`
}

type Participant struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type ReceiveMessagePayload struct {
	ID             string      `json:"_id"`
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	MessageType    string      `json:"messageType"`
	Sender         Participant `json:"sender"`
	Receiver       Participant `json:"receiver"`
	TopicID        string      `json:"topicId"`
	CreatedAt      time.Time   `json:"createdAt"`
	IsRead         bool        `json:"isRead"`
}

type MessageReadPayload struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// TypingPayload ExpiresInMs 提示接收方在没有后续信号时多久后自动清除输入状态
type TypingPayload struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	TopicID     string `json:"topicId"`
	ExpiresInMs int64  `json:"expiresInMs,omitempty"`
}

// RoomName 话题对应的房间名
func RoomName(topicID string) string {
	return "property_" + topicID
}

func errorEvent(name, msg string) Event {
	return Event{Name: name, Data: ErrorPayload{Message: msg}}
}
