package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

type recordingModel struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	reply  []string
}

func (m *recordingModel) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	return schema.AssistantMessage(strings.Join(m.reply, ""), nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	chunks := make([]*schema.Message, 0, len(m.reply))
	for _, part := range m.reply {
		chunks = append(chunks, schema.AssistantMessage(part, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *recordingModel) lastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

func TestChainStreamBuildsPrompt(t *testing.T) {
	ctx := context.Background()
	fake := &recordingModel{reply: []string{"Hello", ", how can I help?"}}
	chain, err := NewChain(ctx, "fake", "m1", fake)
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}
	if chain.Label() != "fake/m1" {
		t.Fatalf("unexpected label: %s", chain.Label())
	}

	stream, err := chain.Stream(ctx, agent.ChatRequest{
		SessionID:    "s1",
		SystemPrompt: "You are a helpful voice AI assistant.",
		History: []chat.Message{
			{Sender: chat.SenderUser, Content: "hi"},
			{Sender: chat.SenderAssistant, Content: "hello"},
			{Sender: chat.SenderUser, Content: "   "},
		},
		Instructions: "Greet the user and offer your assistance.",
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv returned error: %v", err)
		}
		builder.WriteString(chunk.Content)
	}
	if builder.String() != "Hello, how can I help?" {
		t.Fatalf("unexpected reply: %q", builder.String())
	}

	input := fake.lastInput()
	if len(input) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d", len(input))
	}
	if input[0].Role != schema.System || input[0].Content != "You are a helpful voice AI assistant." {
		t.Fatalf("unexpected system message: %+v", input[0])
	}
	if input[1].Role != schema.User || input[2].Role != schema.Assistant {
		t.Fatalf("unexpected history roles: %s %s", input[1].Role, input[2].Role)
	}
	if input[3].Role != schema.System || input[3].Content != "Greet the user and offer your assistance." {
		t.Fatalf("unexpected instructions message: %+v", input[3])
	}
}

func TestChainWithoutInstructions(t *testing.T) {
	ctx := context.Background()
	fake := &recordingModel{reply: []string{"ok"}}
	chain, _ := NewChain(ctx, "fake", "", fake)

	msg, err := chain.Generate(ctx, agent.ChatRequest{SystemPrompt: "你是播客主持人。"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if msg.Content != "ok" {
		t.Fatalf("unexpected reply: %q", msg.Content)
	}
	if input := fake.lastInput(); len(input) != 1 {
		t.Fatalf("expected only the system message, got %d", len(input))
	}
	if chain.Label() != "fake" {
		t.Fatalf("unexpected label: %s", chain.Label())
	}
}

func TestChainRequiresSystemPrompt(t *testing.T) {
	chain, _ := NewChain(context.Background(), "fake", "", &recordingModel{})
	if _, err := chain.Stream(context.Background(), agent.ChatRequest{}); !errors.Is(err, ErrNoSystemPrompt) {
		t.Fatalf("expected ErrNoSystemPrompt, got %v", err)
	}
}

func TestBuildHistoryMessagesKeepsRecent(t *testing.T) {
	messages := make([]chat.Message, 0, 14)
	for i := 0; i < 14; i++ {
		sender := chat.SenderUser
		if i%2 == 1 {
			sender = chat.SenderAssistant
		}
		messages = append(messages, chat.Message{Sender: sender, Content: string(rune('a' + i))})
	}

	history := buildHistoryMessages(messages)
	if len(history) != historyLimit {
		t.Fatalf("expected %d messages, got %d", historyLimit, len(history))
	}
	if history[0].Content != "e" || history[len(history)-1].Content != "n" {
		t.Fatalf("unexpected window: first=%s last=%s", history[0].Content, history[len(history)-1].Content)
	}
}

func TestProvidersRequireCredentials(t *testing.T) {
	ctx := context.Background()
	if _, err := NewOpenAI(ctx, config.OpenAIConfig{}, "", config.SamplingConfig{}); err == nil {
		t.Fatal("expected openai credential error")
	}
	if _, err := NewArk(ctx, config.ArkConfig{APIKey: "key"}, "", config.SamplingConfig{}); err == nil {
		t.Fatal("expected ark model error")
	}
	if _, err := NewGemini(ctx, "", "", config.SamplingConfig{}); err == nil {
		t.Fatal("expected gemini credential error")
	}
}

func TestNewOpenAIBuildsChain(t *testing.T) {
	temp := 0.7
	chain, err := NewOpenAI(context.Background(), config.OpenAIConfig{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1"}, "", config.SamplingConfig{Temperature: &temp})
	if err != nil {
		t.Fatalf("NewOpenAI returned error: %v", err)
	}
	if chain.Label() != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected label: %s", chain.Label())
	}
}
