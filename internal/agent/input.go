package agent

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/metrics"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

// inputLoop 房间音频 -> 降噪 -> 重采样 -> VAD -> STT
func (s *Session) inputLoop(frames <-chan audio.Frame, nc NoiseCanceller) {
	defer s.wg.Done()

	var vad VADStream
	if s.opts.VAD != nil {
		vad = s.opts.VAD.NewStream()
	}
	rate := s.opts.STT.SampleRate()

	s.mu.Lock()
	stream := s.stt
	s.mu.Unlock()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.Empty() {
				continue
			}
			if nc != nil {
				frame = nc.Process(frame)
			}
			frame, err := audio.Resample(frame, rate)
			if err != nil {
				log.Printf("[session] resample input: %v", err)
				continue
			}
			if vad != nil {
				if event, ok := vad.Push(frame); ok {
					s.onVADEvent(event)
				}
			}
			if err := stream.Push(frame); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				log.Printf("[session] push audio to stt %s: %v", s.opts.STT.Label(), err)
			}
		}
	}
}

func (s *Session) transcriptLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	stream := s.stt
	s.mu.Unlock()
	events := stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.onSpeechEvent(event)
		}
	}
}

func (s *Session) onVADEvent(event VADEvent) {
	switch event.Type {
	case VADSpeechStart:
		s.turnMu.Lock()
		s.userSpeaking = true
		if s.endpointTimer != nil {
			s.endpointTimer.Stop()
			s.endpointTimer = nil
		}
		s.turnMu.Unlock()
		s.interruptCurrent()
	case VADSpeechEnd:
		s.turnMu.Lock()
		s.userSpeaking = false
		s.turnMu.Unlock()
		s.scheduleEndOfTurn()
	}
}

func (s *Session) onSpeechEvent(event SpeechEvent) {
	switch event.Type {
	case SpeechInterim:
		// 没有 VAD 时以识别到的文字作为开口信号
		if s.opts.VAD == nil && strings.TrimSpace(event.Text) != "" {
			s.interruptCurrent()
		}
	case SpeechFinal:
		text := strings.TrimSpace(event.Text)
		if text == "" {
			return
		}
		s.turnMu.Lock()
		s.pending = append(s.pending, text)
		if event.Language != "" {
			s.language = event.Language
		}
		s.turnMu.Unlock()
		s.scheduleEndOfTurn()
	case SpeechEndOfTurn:
		s.turnMu.Lock()
		s.userSpeaking = false
		s.turnMu.Unlock()
		s.scheduleEndOfTurn()
	case SpeechError:
		log.Printf("[session] stt %s error: %v", s.opts.STT.Label(), event.Err)
	}
}

// scheduleEndOfTurn 根据轮次检测结果选择端点延迟，到期后提交用户发言。
func (s *Session) scheduleEndOfTurn() {
	s.turnMu.Lock()
	if len(s.pending) == 0 || s.userSpeaking {
		s.turnMu.Unlock()
		return
	}
	text := strings.Join(s.pending, " ")
	lang := s.language
	s.turnMu.Unlock()

	delay := s.endpointingDelay(text, lang)

	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.userSpeaking {
		return
	}
	if s.endpointTimer != nil {
		s.endpointTimer.Stop()
	}
	s.endpointTimer = time.AfterFunc(delay, s.commitUserTurn)
}

func (s *Session) endpointingDelay(text, lang string) time.Duration {
	detector := s.opts.TurnDetection
	if detector == nil {
		return s.opts.MinEndpointingDelay
	}
	if lang == "" {
		lang = s.opts.Language
	}
	if !detector.SupportsLanguage(lang) {
		return s.opts.MinEndpointingDelay
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()

	history, err := s.transcripts.Recent(ctx, s.TranscriptID(), historyLimit)
	if err != nil {
		log.Printf("[session] load turn history: %v", err)
	}
	history = append(history, chat.Message{Sender: chat.SenderUser, Content: text})

	probability, err := detector.PredictEndOfTurn(ctx, TurnContext{Messages: history, Language: lang})
	if err != nil {
		log.Printf("[session] turn detector %s: %v", detector.Label(), err)
		return s.opts.MinEndpointingDelay
	}
	threshold, err := detector.UnlikelyThreshold(lang)
	if err != nil {
		return s.opts.MinEndpointingDelay
	}
	if probability < threshold {
		return s.opts.MaxEndpointingDelay
	}
	return s.opts.MinEndpointingDelay
}

func (s *Session) commitUserTurn() {
	s.turnMu.Lock()
	if s.userSpeaking || len(s.pending) == 0 {
		s.turnMu.Unlock()
		return
	}
	text := strings.Join(s.pending, " ")
	s.pending = nil
	s.endpointTimer = nil
	s.turnMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if err := s.recordMessage(s.ctx, chat.SenderUser, text, false); err != nil {
		log.Printf("[session] %v", err)
		return
	}
	metrics.UserTurn(s.Persona().ID)

	if s.opts.DisableAutoReply {
		return
	}
	if _, err := s.schedule(ReplyOptions{}, ""); err != nil {
		log.Printf("[session] schedule reply after user turn: %v", err)
	}
}
