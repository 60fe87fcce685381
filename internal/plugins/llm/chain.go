// Package llm 基于 eino 编排的流式回复生成插件。
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

const historyLimit = 10

// ErrNoSystemPrompt 回复请求缺少角色设定。
var ErrNoSystemPrompt = errors.New("system prompt is required")

// Chain 把角色设定、历史与本次指令拼装后交给聊天模型。
type Chain struct {
	label    string
	model    string
	runnable compose.Runnable[map[string]any, *schema.Message]
}

// NewChain 编译 prompt -> chat model 链。
func NewChain(ctx context.Context, label, modelName string, chatModel model.BaseChatModel) (*Chain, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%s: chat model is nil", label)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.MessagesPlaceholder("instructions", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &Chain{label: label, model: modelName, runnable: runnable}, nil
}

// Label 返回 provider/model 形式的名称。
func (c *Chain) Label() string {
	if c.model == "" {
		return c.label
	}
	return c.label + "/" + c.model
}

// Stream 流式生成回复。
func (c *Chain) Stream(ctx context.Context, req agent.ChatRequest) (*schema.StreamReader[*schema.Message], error) {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return nil, ErrNoSystemPrompt
	}

	stream, err := c.runnable.Stream(ctx, buildChainInput(req))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat chain output: %w", err)
	}
	log.Printf("[llm] %s streaming reply session=%s history=%d", c.Label(), req.SessionID, len(req.History))
	return stream, nil
}

// Generate 一次性生成完整回复。
func (c *Chain) Generate(ctx context.Context, req agent.ChatRequest) (*schema.Message, error) {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return nil, ErrNoSystemPrompt
	}
	msg, err := c.runnable.Invoke(ctx, buildChainInput(req))
	if err != nil {
		return nil, fmt.Errorf("failed to run chat chain: %w", err)
	}
	return msg, nil
}

func buildChainInput(req agent.ChatRequest) map[string]any {
	var instructions []*schema.Message
	if text := strings.TrimSpace(req.Instructions); text != "" {
		instructions = append(instructions, schema.SystemMessage(text))
	}
	return map[string]any{
		"system":       req.SystemPrompt,
		"history":      buildHistoryMessages(req.History),
		"instructions": instructions,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
