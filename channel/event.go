// Package channel exposes the bot over a WebSocket gateway: inbound chat
// events come in as JSON frames, replies go back on the same connection.
package channel

// EventType 入站事件类别。网关只处理文本，其余类别直接忽略。
type EventType string

const (
	EventText  EventType = "text"
	EventImage EventType = "image"
	EventVoice EventType = "voice"
)

// InboundEvent 一条入站聊天事件。群聊里 FromUserID 是群标识，
// ActualUserID 才是真正说话的人。
type InboundEvent struct {
	Type         EventType `json:"type"`
	FromUserID   string    `json:"from_user_id"`
	ActualUserID string    `json:"actual_user_id,omitempty"`
	IsGroup      bool      `json:"is_group,omitempty"`
	Content      string    `json:"content"`
}

// SenderID 返回本条事件应归属的用户：群聊取实际发言人，
// 私聊取会话对端。
func (e *InboundEvent) SenderID() string {
	if e.IsGroup && e.ActualUserID != "" {
		return e.ActualUserID
	}
	return e.FromUserID
}

// OutboundEvent 一条出站回复。长回复按段落拆成多条，Final 标记
// 本轮的最后一条。
type OutboundEvent struct {
	ToUserID string `json:"to_user_id"`
	Content  string `json:"content"`
	Final    bool   `json:"final"`
}
