package stt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/wsconn"
)

const (
	assemblyAIEndpoint = "wss://streaming.assemblyai.com/v3/ws"
	terminateTimeout   = 3 * time.Second
)

// AssemblyAIOptions 流式识别参数
type AssemblyAIOptions struct {
	SampleRate int
	// EndOfTurnConfidence 服务端判定说完的置信度阈值，0 使用服务端默认值。
	EndOfTurnConfidence float64
	Language            string
	Endpoint            string
}

// AssemblyAI Universal Streaming v3 识别插件
type AssemblyAI struct {
	apiKey string
	opts   AssemblyAIOptions
}

// NewAssemblyAI 创建识别插件。
func NewAssemblyAI(apiKey string, opts AssemblyAIOptions) (*AssemblyAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("assemblyai: api key is required")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate16kHz
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = assemblyAIEndpoint
	}
	return &AssemblyAI{apiKey: apiKey, opts: opts}, nil
}

func (a *AssemblyAI) Label() string   { return "assemblyai" }
func (a *AssemblyAI) SampleRate() int { return a.opts.SampleRate }

type assemblyAIMessage struct {
	Type                string  `json:"type"`
	ID                  string  `json:"id"`
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	TurnIsFormatted     bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
	Error               string  `json:"error"`
}

// NewStream 建立识别会话
func (a *AssemblyAI) NewStream(ctx context.Context) (agent.STTStream, error) {
	query := url.Values{}
	query.Set("sample_rate", strconv.Itoa(a.opts.SampleRate))
	query.Set("encoding", "pcm_s16le")
	query.Set("format_turns", "true")
	if a.opts.EndOfTurnConfidence > 0 {
		query.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(a.opts.EndOfTurnConfidence, 'f', -1, 64))
	}

	header := http.Header{}
	header.Set("Authorization", a.apiKey)

	conn, _, err := wsconn.Dial(ctx, a.opts.Endpoint+"?"+query.Encode(), header, wsconn.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("assemblyai dial: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &assemblyAIStream{
		ctx:        streamCtx,
		cancel:     cancel,
		conn:       conn,
		events:     NewEvents(streamCtx),
		sampleRate: a.opts.SampleRate,
		language:   a.opts.Language,
		done:       make(chan struct{}),
	}
	conn.CloseOnDone(streamCtx)
	go s.receive()
	return s, nil
}

type assemblyAIStream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	conn       *wsconn.Conn
	events     *Events
	sampleRate int
	language   string
	done       chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *assemblyAIStream) Events() <-chan agent.SpeechEvent { return s.events.C() }

func (s *assemblyAIStream) Push(frame audio.Frame) error {
	if frame.SampleRate != s.sampleRate || frame.Channels > 1 {
		var err error
		if frame, err = audio.Resample(frame, s.sampleRate); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("assemblyai: stream closed")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame.Bytes())
}

// Close 请求服务端结束会话并等待 Termination。
func (s *assemblyAIStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.conn.WriteJSON(map[string]string{"type": "Terminate"})
	s.mu.Unlock()

	if err == nil {
		select {
		case <-s.done:
		case <-time.After(terminateTimeout):
			log.Printf("[stt] assemblyai termination timeout")
		}
	}
	s.cancel()
	<-s.done
	return s.conn.Close()
}

func (s *assemblyAIStream) receive() {
	defer close(s.done)
	defer s.events.Close()

	for {
		var msg assemblyAIMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !wsconn.IsClosed(err) && s.ctx.Err() == nil {
				s.events.Fail(fmt.Errorf("assemblyai read: %w", err))
			}
			return
		}

		switch msg.Type {
		case "Begin":
			log.Printf("[stt] assemblyai session started id=%s", msg.ID)
		case "Turn":
			s.onTurn(msg)
		case "Termination":
			return
		default:
			if msg.Error != "" {
				s.events.Fail(fmt.Errorf("assemblyai: %s", msg.Error))
				return
			}
		}
	}
}

// onTurn 未结束的轮次为中间结果；开启格式化时只采用格式化后的最终文本。
func (s *assemblyAIStream) onTurn(msg assemblyAIMessage) {
	text := strings.TrimSpace(msg.Transcript)
	if !msg.EndOfTurn {
		if text != "" {
			s.events.Emit(agent.SpeechEvent{Type: agent.SpeechInterim, Text: text, Language: s.language})
		}
		return
	}
	if !msg.TurnIsFormatted {
		return
	}
	if text != "" {
		s.events.Emit(agent.SpeechEvent{
			Type:       agent.SpeechFinal,
			Text:       text,
			Language:   s.language,
			Confidence: msg.EndOfTurnConfidence,
		})
	}
	s.events.Emit(agent.SpeechEvent{Type: agent.SpeechEndOfTurn, Language: s.language})
}
