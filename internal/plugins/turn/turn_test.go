package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

func predictFor(t *testing.T, text, lang string) float64 {
	t.Helper()
	d := NewMultilingual()
	p, err := d.PredictEndOfTurn(context.Background(), agent.TurnContext{
		Messages: []chat.Message{
			{Sender: chat.SenderAssistant, Content: "How can I help?"},
			{Sender: chat.SenderUser, Content: text},
		},
		Language: lang,
	})
	if err != nil {
		t.Fatalf("PredictEndOfTurn returned error: %v", err)
	}
	return p
}

func TestPredictEndOfTurn(t *testing.T) {
	d := NewMultilingual()
	threshold, _ := d.UnlikelyThreshold("en-US")

	cases := []struct {
		text     string
		lang     string
		finished bool
	}{
		{"I'd like to book a table for two.", "en", true},
		{"Can you tell me the weather?", "en-US", true},
		{"I want to order a pizza and", "en", false},
		{"so I was thinking,", "en", false},
		{"well...", "en", false},
		{"我想问一下明天的天气然后", "zh-CN", false},
		{"明天会下雨吗？", "zh", true},
	}
	for _, tc := range cases {
		p := predictFor(t, tc.text, tc.lang)
		if got := p >= threshold; got != tc.finished {
			t.Fatalf("%q: probability %.4f, expected finished=%v", tc.text, p, tc.finished)
		}
	}
}

func TestTrailingWordNeedsWholeWord(t *testing.T) {
	// "panda" 以 "and" 结尾但不是连词
	if p := predictFor(t, "I really like the panda", "en"); p == probTrailing {
		t.Fatalf("unexpected trailing match: %.4f", p)
	}
}

func TestLanguageSupport(t *testing.T) {
	d := NewMultilingual()
	if !d.SupportsLanguage("zh-CN") || !d.SupportsLanguage("EN") {
		t.Fatal("expected zh-CN and EN to be supported")
	}
	if d.SupportsLanguage("xx") {
		t.Fatal("expected xx to be unsupported")
	}
	if _, err := d.UnlikelyThreshold("xx"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestPredictWithoutUserMessage(t *testing.T) {
	d := NewMultilingual()
	p, err := d.PredictEndOfTurn(context.Background(), agent.TurnContext{Language: "en"})
	if err != nil || p != 0 {
		t.Fatalf("expected 0 probability, got %.4f, %v", p, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.PredictEndOfTurn(ctx, agent.TurnContext{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
