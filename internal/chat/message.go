package chat

import (
	"time"

	"github.com/google/uuid"

	"Enclava-Chain/internal/backend"
	"Enclava-Chain/internal/market"
)

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 是会话中的一条消息。消息一旦追加便不可修改，消息序列按插入
// 顺序只增不减。
type Message struct {
	ID              string                `json:"id"`
	Role            Role                  `json:"role"`
	Content         string                `json:"content"`
	CreatedAt       time.Time             `json:"created_at"`
	SuggestedAgents []market.Agent        `json:"suggested_agents,omitempty"`
	Answers         []backend.AgentAnswer `json:"answers,omitempty"`
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}
