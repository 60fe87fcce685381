package volcengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/stt"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/wsconn"
)

const (
	sttEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

	resourceDuration   = "volc.bigasr.sauc.duration"
	resourceConcurrent = "volc.bigasr.sauc.concurrent"

	closeTimeout = 3 * time.Second
)

// STT 火山引擎大模型流式语音识别
type STT struct {
	creds    config.VolcengineConfig
	endpoint string
}

// NewSTT 创建识别插件，输入为 16kHz 单声道 PCM。
func NewSTT(creds config.VolcengineConfig) (*STT, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	return &STT{creds: creds, endpoint: sttEndpoint}, nil
}

// WithEndpoint 覆盖服务地址
func (s *STT) WithEndpoint(url string) *STT {
	s.endpoint = url
	return s
}

func (s *STT) Label() string   { return "volcengine" }
func (s *STT) SampleRate() int { return audio.SampleRate16kHz }

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text      string `json:"text"`
			StartTime int64  `json:"start_time"`
			EndTime   int64  `json:"end_time"`
			Definite  bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
}

// NewStream 建立连接并发送首包。
func (s *STT) NewStream(ctx context.Context) (agent.STTStream, error) {
	resource := resourceDuration
	if s.creds.ConcurrentMode {
		resource = resourceConcurrent
	}
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", s.creds.AppID)
	header.Set("X-Api-Access-Key", s.creds.AccessToken)
	header.Set("X-Api-Resource-Id", resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := wsconn.Dial(ctx, s.endpoint, header, wsconn.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("volcengine stt dial: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[stt] volcengine connected logid=%s resource=%s", logid, resource)
		}
	}

	var req asrRequest
	req.User.UID = connectID
	req.Audio.Language = s.creds.Language
	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Rate = audio.SampleRate16kHz
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "single"
	req.Request.EndWindowSize = 800

	payload, err := json.Marshal(req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	packet, err := NewClientRequest(payload, GzipCompression)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, packet.Marshal()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &sttStream{
		ctx:      streamCtx,
		conn:     conn,
		events:   stt.NewEvents(streamCtx),
		cancel:   cancel,
		sequence: 1,
		language: s.creds.Language,
		done:     make(chan struct{}),
	}
	conn.CloseOnDone(streamCtx)
	go stream.receive()
	return stream, nil
}

type sttStream struct {
	ctx      context.Context
	conn     *wsconn.Conn
	events   *stt.Events
	cancel   context.CancelFunc
	language string

	mu       sync.Mutex
	sequence int32 // 首包占用序号 1
	closed   bool
	done     chan struct{}
}

func (s *sttStream) Events() <-chan agent.SpeechEvent { return s.events.C() }

// Push 发送一帧音频，帧会被转换为 16kHz 单声道。
func (s *sttStream) Push(frame audio.Frame) error {
	if frame.SampleRate != audio.SampleRate16kHz || frame.Channels > 1 {
		var err error
		if frame, err = audio.Resample(frame, audio.SampleRate16kHz); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("volcengine stt: stream closed")
	}
	s.sequence++
	return s.send(frame.Bytes(), s.sequence, false)
}

// Close 发送结束包并等待服务端返回剩余结果。
func (s *sttStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sequence++
	err := s.send(nil, s.sequence, true)
	s.mu.Unlock()

	if err != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-time.After(closeTimeout):
		log.Printf("[stt] volcengine final result timeout")
	}
	s.cancel()
	return s.conn.Close()
}

func (s *sttStream) send(pcm []byte, seq int32, last bool) error {
	packet, err := NewAudioRequest(pcm, seq, last, GzipCompression)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, packet.Marshal()); err != nil {
		return fmt.Errorf("send audio packet: %w", err)
	}
	return nil
}

func (s *sttStream) receive() {
	defer close(s.done)
	defer s.events.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !wsconn.IsClosed(err) && s.ctx.Err() == nil {
				s.events.Fail(fmt.Errorf("volcengine stt read: %w", err))
			}
			return
		}

		packet, err := Unmarshal(data)
		if err != nil {
			s.events.Fail(fmt.Errorf("decode asr packet: %w", err))
			return
		}
		if packet.Type == ErrorMessage {
			s.events.Fail(fmt.Errorf("volcengine stt error %d: %s", packet.ErrorCode, string(packet.Payload)))
			return
		}
		if packet.Type != FullServerResponse {
			continue
		}

		if err := s.dispatch(packet.Payload); err != nil {
			s.events.Fail(err)
			return
		}
		if packet.IsLast() {
			return
		}
	}
}

// dispatch 把确定的分句作为最终结果，其余作为中间结果。
func (s *sttStream) dispatch(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var resp asrResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("parse asr response: %w", err)
	}
	if resp.Code != 0 && resp.Code != 20000000 {
		return fmt.Errorf("volcengine stt api error %d: %s", resp.Code, resp.Message)
	}

	if len(resp.Result.Utterances) == 0 {
		if text := strings.TrimSpace(resp.Result.Text); text != "" {
			s.events.Emit(agent.SpeechEvent{Type: agent.SpeechInterim, Text: text, Language: s.language})
		}
		return nil
	}

	var interim []string
	for _, u := range resp.Result.Utterances {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if u.Definite {
			s.events.Emit(agent.SpeechEvent{Type: agent.SpeechFinal, Text: text, Language: s.language, Confidence: 1})
			continue
		}
		interim = append(interim, text)
	}
	if len(interim) > 0 {
		s.events.Emit(agent.SpeechEvent{Type: agent.SpeechInterim, Text: strings.Join(interim, ""), Language: s.language})
	}
	return nil
}
