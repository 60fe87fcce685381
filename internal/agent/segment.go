package agent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const minSentenceRunes = 12

// sentenceSplitter 从流式增量文本中切出完整句子，供逐句合成。
type sentenceSplitter struct {
	pending string
	minLen  int
}

func newSentenceSplitter() *sentenceSplitter {
	return &sentenceSplitter{minLen: minSentenceRunes}
}

// Push 追加增量文本并返回已完整的句子。过短的句子会与下一句合并。
func (s *sentenceSplitter) Push(delta string) []string {
	s.pending += delta
	runes := []rune(s.pending)

	var out []string
	start := 0
	for i := range runes {
		if !isSentenceBoundary(runes, i) {
			continue
		}
		candidate := strings.TrimSpace(string(runes[start : i+1]))
		if utf8.RuneCountInString(candidate) < s.minLen {
			continue
		}
		out = append(out, candidate)
		start = i + 1
	}
	s.pending = string(runes[start:])
	return out
}

// Flush 返回剩余文本。
func (s *sentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.pending)
	s.pending = ""
	return rest
}

// 英文标点后必须跟空白，避免把 3.5 或 e.g 切开
func isSentenceBoundary(runes []rune, i int) bool {
	switch runes[i] {
	case '。', '！', '？', '\n':
		return true
	case '.', '!', '?':
		return i+1 < len(runes) && unicode.IsSpace(runes[i+1])
	}
	return false
}

// splitText 一次性切分完整文本。
func splitText(text string) []string {
	splitter := newSentenceSplitter()
	sentences := splitter.Push(text)
	if rest := splitter.Flush(); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
