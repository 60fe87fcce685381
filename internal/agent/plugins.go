// Package agent 实现语音会话运行时：把房间音频接入识别、推理与合成插件，
// 并按顺序播放回复。
package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
)

// SpeechEventType 识别事件类型
type SpeechEventType int

const (
	SpeechInterim   SpeechEventType = iota // 中间结果
	SpeechFinal                            // 一段话的最终结果
	SpeechEndOfTurn                        // 服务端判定用户说完
	SpeechError
)

// SpeechEvent 是 STT 流输出的一条事件。
type SpeechEvent struct {
	Type       SpeechEventType
	Text       string
	Language   string
	Confidence float64
	Err        error
}

// STT 流式语音识别插件。
type STT interface {
	Label() string
	// SampleRate 是插件期望的单声道输入采样率。
	SampleRate() int
	NewStream(ctx context.Context) (STTStream, error)
}

// STTStream 一次识别会话。Events 在流关闭后关闭。
type STTStream interface {
	Push(frame audio.Frame) error
	Events() <-chan SpeechEvent
	Close() error
}

// ChatRequest 一次回复生成请求。
type ChatRequest struct {
	SessionID    string
	SystemPrompt string
	History      []chat.Message
	// Instructions 仅作用于本次回复的额外指令，可为空。
	Instructions string
}

// LLM 流式生成回复文本。
type LLM interface {
	Label() string
	Stream(ctx context.Context, req ChatRequest) (*schema.StreamReader[*schema.Message], error)
}

// TTS 将文本合成为 PCM 音频。
type TTS interface {
	Label() string
	SampleRate() int
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// AudioStream 合成结果，Recv 在结束时返回 io.EOF。
type AudioStream interface {
	Recv() (audio.Frame, error)
	Close() error
}

// VADEventType 语音活动事件
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechEnd
)

// VADEvent 语音活动边界。
type VADEvent struct {
	Type VADEventType
	// Speech 是已累计的语音时长，仅 VADSpeechEnd 有效。
	Speech time.Duration
}

// VAD 语音活动检测插件。
type VAD interface {
	Label() string
	NewStream() VADStream
}

// VADStream 逐帧判断语音边界，没有边界变化时 ok 为 false。
type VADStream interface {
	Push(frame audio.Frame) (event VADEvent, ok bool)
}

// TurnContext 用于判断用户是否说完的对话上下文，最后一条是当前用户发言。
type TurnContext struct {
	Messages []chat.Message
	Language string
}

// TurnDetector 根据文本估计轮次结束概率。
type TurnDetector interface {
	Label() string
	SupportsLanguage(lang string) bool
	UnlikelyThreshold(lang string) (float64, error)
	PredictEndOfTurn(ctx context.Context, turn TurnContext) (float64, error)
}

// NoiseCanceller 在识别前处理房间输入音频，实例按会话独占。
type NoiseCanceller interface {
	Label() string
	Process(frame audio.Frame) audio.Frame
}
