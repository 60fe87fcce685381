package stt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

// DeepgramOptions 流式识别参数
type DeepgramOptions struct {
	Model          string
	Language       string
	UtteranceEndMs int
}

// Deepgram 基于官方 SDK 回调模式的识别插件
type Deepgram struct {
	apiKey string
	opts   DeepgramOptions
}

// NewDeepgram 创建识别插件，默认 nova-3。
func NewDeepgram(apiKey string, opts DeepgramOptions) (*Deepgram, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	if opts.Model == "" {
		opts.Model = "nova-3"
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if opts.UtteranceEndMs <= 0 {
		opts.UtteranceEndMs = 1500
	}
	return &Deepgram{apiKey: apiKey, opts: opts}, nil
}

func (d *Deepgram) Label() string   { return "deepgram" }
func (d *Deepgram) SampleRate() int { return audio.SampleRate16kHz }

// NewStream 建立识别会话
func (d *Deepgram) NewStream(ctx context.Context) (agent.STTStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		cancel:   cancel,
		events:   NewEvents(streamCtx),
		language: d.opts.Language,
	}

	clientOptions := interfaces.ClientOptions{APIKey: d.apiKey}
	transcriptOptions := interfaces.LiveTranscriptionOptions{
		Model:          d.opts.Model,
		Language:       d.opts.Language,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     audio.SampleRate16kHz,
		Channels:       1,
		InterimResults: true,
		UtteranceEndMs: strconv.Itoa(d.opts.UtteranceEndMs),
	}

	conn, err := client.NewWebSocketUsingCallback(streamCtx, "", &clientOptions, &transcriptOptions, &deepgramReceiver{stream: s})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}
	if ok := conn.Connect(); !ok {
		cancel()
		return nil, errors.New("deepgram connect: handshake failed")
	}
	s.conn = conn
	return s, nil
}

type deepgramStream struct {
	conn     *client.WSCallback
	cancel   context.CancelFunc
	events   *Events
	language string

	mu     sync.Mutex
	closed bool
}

func (s *deepgramStream) Events() <-chan agent.SpeechEvent { return s.events.C() }

func (s *deepgramStream) Push(frame audio.Frame) error {
	if frame.SampleRate != audio.SampleRate16kHz || frame.Channels > 1 {
		var err error
		if frame, err = audio.Resample(frame, audio.SampleRate16kHz); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("deepgram: stream closed")
	}
	_, err := s.conn.Write(frame.Bytes())
	return err
}

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Stop()
	s.events.Close()
	return nil
}

// deepgramReceiver 实现 msginterfaces.LiveMessageCallback
type deepgramReceiver struct {
	stream *deepgramStream
}

func (r *deepgramReceiver) Open(*msginterfaces.OpenResponse) error {
	log.Printf("[stt] deepgram connected")
	return nil
}

func (r *deepgramReceiver) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil
	}

	ev := agent.SpeechEvent{Type: agent.SpeechInterim, Text: text, Language: r.stream.language, Confidence: alt.Confidence}
	if mr.IsFinal {
		ev.Type = agent.SpeechFinal
	}
	r.stream.events.Emit(ev)
	return nil
}

func (r *deepgramReceiver) Metadata(*msginterfaces.MetadataResponse) error { return nil }

func (r *deepgramReceiver) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }

// UtteranceEnd 服务端检测到静音，用户说完。
func (r *deepgramReceiver) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	r.stream.events.Emit(agent.SpeechEvent{Type: agent.SpeechEndOfTurn, Language: r.stream.language})
	return nil
}

func (r *deepgramReceiver) Close(*msginterfaces.CloseResponse) error { return nil }

func (r *deepgramReceiver) Error(er *msginterfaces.ErrorResponse) error {
	log.Printf("[stt] deepgram error: %+v", er)
	r.stream.events.Fail(fmt.Errorf("deepgram: %+v", *er))
	return nil
}

func (r *deepgramReceiver) UnhandledEvent([]byte) error { return nil }
