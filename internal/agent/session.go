package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/metrics"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/z-podcast/backend/internal/service/chat"
)

var (
	ErrSessionStarted    = errors.New("session already started")
	ErrSessionNotStarted = errors.New("session not started")
	ErrSessionClosed     = errors.New("session closed")
	ErrMissingPlugin     = errors.New("required plugin missing")
	ErrRoomRequired      = errors.New("room is required")
	ErrEmptyText         = errors.New("text is empty")
)

const (
	DefaultMinEndpointingDelay = 500 * time.Millisecond
	DefaultMaxEndpointingDelay = 6 * time.Second

	historyLimit = 10
)

// SessionOptions 会话使用的插件与轮次参数。
type SessionOptions struct {
	STT           STT
	LLM           LLM
	TTS           TTS
	VAD           VAD
	TurnDetection TurnDetector

	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration
	AllowInterruptions  bool
	// DisableAutoReply 为 true 时用户说完不会自动触发回复。
	DisableAutoReply bool
	// Language 是 STT 未给出语种时用于轮次判断的默认语种。
	Language string

	// Transcripts 为空时会话使用独立的内存存储。
	Transcripts *chatservice.Service
}

// RoomInputOptions 房间输入处理。
type RoomInputOptions struct {
	NoiseCancellation NoiseCanceller
	// AudioDisabled 不订阅房间音频，会话只说不听。
	AudioDisabled bool
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateStarting
	stateRunning
	stateClosed
)

// Session 把一个人格绑定到房间上，负责收听、判断轮次并依次播放回复。
type Session struct {
	opts        SessionOptions
	transcripts *chatservice.Service

	mu      sync.Mutex
	state   sessionState
	persona persona.Persona
	room    Room
	chatID  string
	sink    AudioSink
	stt     STTStream
	queue   []*SpeechHandle
	current *SpeechHandle
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	turnMu        sync.Mutex
	pending       []string
	language      string
	userSpeaking  bool
	endpointTimer *time.Timer
}

// NewSession 只做构造，不产生任何 I/O。
func NewSession(opts SessionOptions) *Session {
	if opts.MinEndpointingDelay <= 0 {
		opts.MinEndpointingDelay = DefaultMinEndpointingDelay
	}
	if opts.MaxEndpointingDelay < opts.MinEndpointingDelay {
		opts.MaxEndpointingDelay = max(DefaultMaxEndpointingDelay, opts.MinEndpointingDelay)
	}
	transcripts := opts.Transcripts
	if transcripts == nil {
		transcripts = chatservice.NewService()
	}
	return &Session{
		opts:        opts,
		transcripts: transcripts,
		wake:        make(chan struct{}, 1),
	}
}

// Options 返回会话配置。
func (s *Session) Options() SessionOptions { return s.opts }

// Persona 返回会话人格，Start 之前为空值。
func (s *Session) Persona() persona.Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// TranscriptID 返回会话在转写存储中的标识。
func (s *Session) TranscriptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Transcripts 返回会话使用的转写存储。
func (s *Session) Transcripts() *chatservice.Service { return s.transcripts }

// Start 进入房间并开始处理，只能调用一次。
func (s *Session) Start(ctx context.Context, room Room, p persona.Persona, in RoomInputOptions) error {
	if room == nil {
		return ErrRoomRequired
	}
	if s.opts.LLM == nil || s.opts.TTS == nil {
		return fmt.Errorf("%w: llm and tts are required", ErrMissingPlugin)
	}

	s.mu.Lock()
	switch s.state {
	case stateIdle:
	case stateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	default:
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.state = stateStarting
	s.persona = p
	s.room = room
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	if err := s.open(ctx, room, p, in); err != nil {
		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()
		s.cancel()
		if closeErr := s.releaseResources(); closeErr != nil {
			log.Printf("[session] release after failed start: %v", closeErr)
		}
		return err
	}
	return nil
}

func (s *Session) open(ctx context.Context, room Room, p persona.Persona, in RoomInputOptions) error {
	record, err := s.transcripts.CreateSession(ctx, p.ID, room.Name())
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}

	sink, err := room.PublishAudio(ctx, "agent-"+p.ID, s.opts.TTS.SampleRate())
	if err != nil {
		return fmt.Errorf("publish audio track: %w", err)
	}
	s.mu.Lock()
	s.chatID = record.ID
	s.sink = sink
	s.mu.Unlock()

	var frames <-chan audio.Frame
	if s.opts.STT != nil && !in.AudioDisabled {
		input, err := room.SubscribeAudio(s.ctx)
		if err != nil {
			return fmt.Errorf("subscribe room audio: %w", err)
		}
		stream, err := s.opts.STT.NewStream(s.ctx)
		if err != nil {
			return fmt.Errorf("open stt %s: %w", s.opts.STT.Label(), err)
		}
		s.mu.Lock()
		s.stt = stream
		s.mu.Unlock()
		frames = input
	}

	s.mu.Lock()
	if s.state != stateStarting {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = stateRunning
	s.mu.Unlock()

	s.wg.Add(1)
	go s.speechLoop()
	if frames != nil {
		s.wg.Add(2)
		go s.inputLoop(frames, in.NoiseCancellation)
		go s.transcriptLoop()
	}

	metrics.SessionStarted(p.ID)
	log.Printf("[session] started persona=%s room=%s transcript=%s listening=%t", p.ID, room.Name(), record.ID, frames != nil)
	return nil
}

// GenerateReply 排队一次由 LLM 生成的回复。同一会话的回复按先进先出依次播放。
func (s *Session) GenerateReply(ctx context.Context, opts ReplyOptions) (*SpeechHandle, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	if opts.UserInput != "" {
		if err := s.recordMessage(ctx, chat.SenderUser, opts.UserInput, false); err != nil {
			return nil, err
		}
	}
	return s.schedule(opts, "")
}

// Say 排队一段固定文本，不经过 LLM。
func (s *Session) Say(ctx context.Context, text string) (*SpeechHandle, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.schedule(ReplyOptions{}, text)
}

// Interrupt 打断当前回复并清空等待队列。
func (s *Session) Interrupt() {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	current := s.current
	s.mu.Unlock()

	for _, h := range queued {
		h.Interrupt()
		h.finish(nil)
	}
	if current != nil {
		current.Interrupt()
	}
}

// Close 停止会话并释放插件与音轨，可重复调用。
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	wasIdle := s.state == stateIdle
	s.state = stateClosed
	queued := s.queue
	s.queue = nil
	cancel := s.cancel
	s.mu.Unlock()

	if wasIdle {
		return nil
	}

	for _, h := range queued {
		h.finish(ErrSessionClosed)
	}
	if cancel != nil {
		cancel()
	}

	s.turnMu.Lock()
	if s.endpointTimer != nil {
		s.endpointTimer.Stop()
	}
	s.turnMu.Unlock()

	s.wg.Wait()
	err := s.releaseResources()
	log.Printf("[session] closed persona=%s", s.Persona().ID)
	return err
}

func (s *Session) releaseResources() error {
	s.mu.Lock()
	stream, sink := s.stt, s.sink
	s.stt, s.sink = nil, nil
	s.mu.Unlock()

	var errs []error
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stt: %w", err))
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) checkRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return nil
	case stateClosed:
		return ErrSessionClosed
	default:
		return ErrSessionNotStarted
	}
}

func (s *Session) schedule(opts ReplyOptions, fixedText string) (*SpeechHandle, error) {
	allow := s.opts.AllowInterruptions
	if opts.AllowInterruptions != nil {
		allow = *opts.AllowInterruptions
	}
	h := newSpeechHandle(opts, fixedText, allow)

	s.mu.Lock()
	switch s.state {
	case stateRunning:
	case stateClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	default:
		s.mu.Unlock()
		return nil, ErrSessionNotStarted
	}
	s.queue = append(s.queue, h)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return h, nil
}

func (s *Session) nextSpeech() *SpeechHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	h := s.queue[0]
	s.queue = s.queue[1:]
	s.current = h
	return h
}

func (s *Session) speechLoop() {
	defer s.wg.Done()
	for {
		h := s.nextSpeech()
		if h == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		s.playReply(h)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
}

// interruptCurrent 在用户开口时打断允许打断的回复。
func (s *Session) interruptCurrent() {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	if h == nil || !h.AllowInterruptions() {
		return
	}
	h.Interrupt()
	log.Printf("[session] reply %s interrupted by user speech", h.ID())
}

func (s *Session) recordMessage(ctx context.Context, sender, text string, interrupted bool) error {
	s.mu.Lock()
	chatID := s.chatID
	p := s.persona
	room := s.room
	s.mu.Unlock()

	msg, err := s.transcripts.SaveMessage(ctx, chat.Message{
		SessionID:   chatID,
		Sender:      sender,
		Content:     text,
		Interrupted: interrupted,
	})
	if err != nil {
		return fmt.Errorf("record %s message: %w", sender, err)
	}

	payload, err := json.Marshal(transcriptionPacket{
		SessionID:   chatID,
		MessageID:   msg.ID,
		Participant: participantFor(p, sender),
		Speaker:     speakerFor(p, sender),
		Sender:      sender,
		Text:        text,
		Final:       true,
		Interrupted: interrupted,
	})
	if err != nil {
		return fmt.Errorf("encode transcription: %w", err)
	}
	if err := room.PublishData(ctx, TopicTranscription, payload); err != nil {
		log.Printf("[session] publish transcription failed: %v", err)
	}
	return nil
}

type transcriptionPacket struct {
	SessionID   string `json:"sessionId"`
	MessageID   string `json:"messageId"`
	Participant string `json:"participant"`
	Speaker     string `json:"speaker"`
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	Final       bool   `json:"final"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

func participantFor(p persona.Persona, sender string) string {
	if sender == chat.SenderUser {
		return "user"
	}
	return "agent-" + p.ID
}

func speakerFor(p persona.Persona, sender string) string {
	if sender == chat.SenderUser {
		return "user"
	}
	return p.Name
}
