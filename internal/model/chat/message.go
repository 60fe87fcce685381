package chat

import "time"

// 消息发送方
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message persists individual conversation turns.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	Interrupted bool      `json:"interrupted,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
