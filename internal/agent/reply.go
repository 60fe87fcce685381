package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/metrics"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

func (s *Session) playReply(h *SpeechHandle) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	p := s.Persona()
	if !h.bind(cancel) {
		h.finish(nil)
		metrics.ReplyFinished(p.ID, metrics.StatusInterrupted, 0)
		return
	}

	err := s.speak(ctx, h)
	if err != nil && !h.Interrupted() && s.ctx.Err() != nil {
		err = ErrSessionClosed
	}
	if h.Interrupted() {
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			sink.Clear()
		}
	}

	if text := h.Text(); text != "" {
		if recErr := s.recordMessage(context.WithoutCancel(ctx), chat.SenderAssistant, text, h.Interrupted()); recErr != nil {
			log.Printf("[session] %v", recErr)
		}
	}

	h.finish(err)

	status := metrics.StatusCompleted
	switch {
	case h.Interrupted():
		status = metrics.StatusInterrupted
	case errors.Is(h.Err(), ErrSessionClosed):
		status = metrics.StatusFailed
	case h.Err() != nil:
		status = metrics.StatusFailed
		log.Printf("[session] reply %s failed persona=%s: %v", h.ID(), p.ID, h.Err())
	}
	metrics.ReplyFinished(p.ID, status, time.Since(h.scheduledAt))
}

// speak 以两级流水线运行：LLM 产出句子，TTS 逐句合成写入音轨，最后等待播完。
func (s *Session) speak(ctx context.Context, h *SpeechHandle) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sentences := make(chan string, 8)
	produced := make(chan error, 1)
	go func() {
		defer close(sentences)
		produced <- s.produceSentences(ctx, h, sentences)
	}()

	for sentence := range sentences {
		if err := s.synthesize(ctx, sentence); err != nil {
			cancel()
			for range sentences {
			}
			<-produced
			return err
		}
		h.appendText(sentence)
	}
	if err := <-produced; err != nil {
		return err
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return ErrSessionClosed
	}
	if err := sink.Flush(ctx); err != nil {
		return fmt.Errorf("flush audio: %w", err)
	}
	return nil
}

func (s *Session) produceSentences(ctx context.Context, h *SpeechHandle, out chan<- string) error {
	send := func(sentence string) error {
		select {
		case out <- sentence:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if h.fixedText != "" {
		for _, sentence := range splitText(h.fixedText) {
			if err := send(sentence); err != nil {
				return err
			}
		}
		return nil
	}

	chatID := s.TranscriptID()
	history, err := s.transcripts.Recent(ctx, chatID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	stream, err := s.opts.LLM.Stream(ctx, ChatRequest{
		SessionID:    chatID,
		SystemPrompt: s.Persona().Instructions,
		History:      history,
		Instructions: h.opts.Instructions,
	})
	if err != nil {
		return fmt.Errorf("llm %s: %w", s.opts.LLM.Label(), err)
	}
	defer stream.Close()

	splitter := newSentenceSplitter()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("llm %s stream: %w", s.opts.LLM.Label(), err)
		}
		if chunk == nil {
			continue
		}
		for _, sentence := range splitter.Push(chunk.Content) {
			if err := send(sentence); err != nil {
				return err
			}
		}
	}
	if rest := splitter.Flush(); rest != "" {
		return send(rest)
	}
	return nil
}

func (s *Session) synthesize(ctx context.Context, text string) error {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return ErrSessionClosed
	}

	stream, err := s.opts.TTS.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("tts %s: %w", s.opts.TTS.Label(), err)
	}
	defer stream.Close()

	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tts %s stream: %w", s.opts.TTS.Label(), err)
		}
		if frame.Empty() {
			continue
		}
		if err := sink.Write(ctx, frame); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
}
