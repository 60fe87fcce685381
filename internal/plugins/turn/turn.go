// Package turn 根据用户最后一句话的文字特征估计轮次是否结束。
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

// ErrUnsupportedLanguage 没有为该语言调过阈值。
var ErrUnsupportedLanguage = errors.New("turn detector: unsupported language")

// 各语言的 unlikely 阈值，概率低于阈值时视为用户还没说完。
var unlikelyThresholds = map[string]float64{
	"en": 0.0289,
	"es": 0.0185,
	"fr": 0.0197,
	"de": 0.0165,
	"it": 0.0173,
	"pt": 0.0186,
	"nl": 0.0146,
	"ru": 0.0155,
	"tr": 0.0216,
	"id": 0.0154,
	"hi": 0.0148,
	"zh": 0.0236,
	"ja": 0.0198,
	"ko": 0.0142,
}

// 句尾出现这些词通常表示话还没说完
var trailingWords = map[string][]string{
	"en": {"and", "but", "or", "so", "because", "um", "uh", "like", "the", "a", "to", "of", "with", "if", "then", "well"},
	"es": {"y", "pero", "o", "porque", "que", "el", "la", "de", "entonces"},
	"fr": {"et", "mais", "ou", "parce", "que", "le", "la", "de", "donc", "euh"},
	"de": {"und", "aber", "oder", "weil", "dass", "der", "die", "das", "also", "ähm"},
	"pt": {"e", "mas", "ou", "porque", "que", "o", "a", "de", "então"},
	"zh": {"然后", "但是", "因为", "所以", "而且", "就是", "那个", "这个", "的", "和", "嗯", "呃"},
	"ja": {"けど", "から", "ので", "そして", "えっと", "あの"},
}

const (
	probFinished   = 0.95
	probTrailing   = 0.005
	probContinuing = 0.01
	probShort      = 0.2
	probDefault    = 0.5
)

// Multilingual 轻量的多语言轮次检测器
type Multilingual struct{}

// NewMultilingual 创建检测器
func NewMultilingual() *Multilingual { return &Multilingual{} }

func (d *Multilingual) Label() string { return "multilingual" }

// SupportsLanguage 接受 en、en-US、zh-CN 等写法。
func (d *Multilingual) SupportsLanguage(lang string) bool {
	_, ok := unlikelyThresholds[normalizeLanguage(lang)]
	return ok
}

func (d *Multilingual) UnlikelyThreshold(lang string) (float64, error) {
	threshold, ok := unlikelyThresholds[normalizeLanguage(lang)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return threshold, nil
}

// PredictEndOfTurn 取最后一条用户发言估计说完的概率。
func (d *Multilingual) PredictEndOfTurn(ctx context.Context, turn agent.TurnContext) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	text := lastUserText(turn.Messages)
	if text == "" {
		return 0, nil
	}
	return predict(text, normalizeLanguage(turn.Language)), nil
}

func predict(text, lang string) float64 {
	runes := []rune(text)
	last := runes[len(runes)-1]
	switch last {
	case '.', '!', '?', '。', '！', '？':
		// "..." 表示停顿
		if strings.HasSuffix(text, "...") {
			return probContinuing
		}
		return probFinished
	case ',', '，', '、', ';', '；', ':', '：', '-', '…':
		return probContinuing
	}

	if endsWithTrailingWord(text, lang) {
		return probTrailing
	}
	if countWords(text) < 3 {
		return probShort
	}
	return probDefault
}

func endsWithTrailingWord(text, lang string) bool {
	words, ok := trailingWords[lang]
	if !ok {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if !strings.HasSuffix(lower, w) {
			continue
		}
		// 有空格分词的语言要求整词匹配
		prefix := lower[:len(lower)-len(w)]
		if prefix == "" || isCJK(w) || strings.HasSuffix(prefix, " ") {
			return true
		}
	}
	return false
}

func countWords(text string) int {
	if strings.IndexFunc(text, isCJKRune) >= 0 {
		n := 0
		for _, r := range text {
			if isCJKRune(r) {
				n++
			}
		}
		// 约两个汉字一个词
		return (n + 1) / 2
	}
	return len(strings.Fields(text))
}

func lastUserText(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == chat.SenderUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func isCJK(s string) bool {
	return strings.IndexFunc(s, isCJKRune) >= 0
}

func isCJKRune(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}
