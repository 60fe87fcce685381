// Package plugins 按名称构造识别、推理、合成等会话插件。
package plugins

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/llm"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/noise"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/stt"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/tts"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/turn"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/vad"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/volcengine"
)

var (
	// ErrUnknownProvider 未注册的服务名
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingCredentials 服务所需的密钥未配置
	ErrMissingCredentials = errors.New("missing provider credentials")
)

// ProviderSpec 描述一个插件：服务名加上模型、音色、语言等参数。
// Provider 为空表示不启用该插件。
type ProviderSpec struct {
	Provider      string
	Model         string
	Voice         string
	Language      string
	SpeedAlpha    float64
	ReduceLatency bool
}

func (s ProviderSpec) String() string {
	parts := []string{s.Provider}
	if s.Model != "" {
		parts = append(parts, s.Model)
	}
	if s.Voice != "" {
		parts = append(parts, s.Voice)
	}
	return strings.Join(parts, "/")
}

// model 把 "default" 视为服务默认模型
func (s ProviderSpec) model() string {
	if s.Model == "default" {
		return ""
	}
	return s.Model
}

// Registry 用显式传入的凭证构造插件，不读取进程环境变量。
type Registry struct {
	creds config.ProviderConfig
}

// NewRegistry 创建插件注册表
func NewRegistry(creds config.ProviderConfig) *Registry {
	return &Registry{creds: creds}
}

// STT 构造语音识别插件
func (r *Registry) STT(_ context.Context, spec ProviderSpec) (agent.STT, error) {
	switch spec.Provider {
	case "":
		return nil, nil
	case "assemblyai":
		if err := require(spec, r.creds.AssemblyAIKey); err != nil {
			return nil, err
		}
		return stt.NewAssemblyAI(r.creds.AssemblyAIKey, stt.AssemblyAIOptions{Language: spec.Language})
	case "deepgram":
		if err := require(spec, r.creds.DeepgramKey); err != nil {
			return nil, err
		}
		return stt.NewDeepgram(r.creds.DeepgramKey, stt.DeepgramOptions{Model: spec.model(), Language: spec.Language})
	case "volcengine":
		if err := require(spec, r.creds.Volcengine.AppID, r.creds.Volcengine.AccessToken); err != nil {
			return nil, err
		}
		creds := r.creds.Volcengine
		if spec.Language != "" {
			creds.Language = spec.Language
		}
		return volcengine.NewSTT(creds)
	}
	return nil, fmt.Errorf("%w: stt %q", ErrUnknownProvider, spec.Provider)
}

// LLM 构造回复生成插件
func (r *Registry) LLM(ctx context.Context, spec ProviderSpec) (agent.LLM, error) {
	switch spec.Provider {
	case "":
		return nil, nil
	case "openai":
		if err := require(spec, r.creds.OpenAI.APIKey); err != nil {
			return nil, err
		}
		return llm.NewOpenAI(ctx, r.creds.OpenAI, spec.model(), r.creds.Sampling)
	case "ark":
		if !r.creds.Ark.Enabled() {
			return nil, fmt.Errorf("%w: %s", ErrMissingCredentials, spec)
		}
		return llm.NewArk(ctx, r.creds.Ark, spec.model(), r.creds.Sampling)
	case "gemini", "google":
		if err := require(spec, r.creds.GeminiKey); err != nil {
			return nil, err
		}
		return llm.NewGemini(ctx, r.creds.GeminiKey, spec.model(), r.creds.Sampling)
	}
	return nil, fmt.Errorf("%w: llm %q", ErrUnknownProvider, spec.Provider)
}

// TTS 构造语音合成插件
func (r *Registry) TTS(_ context.Context, spec ProviderSpec) (agent.TTS, error) {
	opts := tts.Options{
		Model:         spec.model(),
		Voice:         spec.Voice,
		Language:      spec.Language,
		Speed:         spec.SpeedAlpha,
		ReduceLatency: spec.ReduceLatency,
	}

	switch spec.Provider {
	case "":
		return nil, nil
	case "rime":
		if err := require(spec, r.creds.RimeKey); err != nil {
			return nil, err
		}
		return tts.NewRime(r.creds.RimeKey, opts)
	case "elevenlabs":
		if err := require(spec, r.creds.ElevenLabsKey); err != nil {
			return nil, err
		}
		return tts.NewElevenLabs(r.creds.ElevenLabsKey, opts)
	case "cartesia":
		if err := require(spec, r.creds.CartesiaKey); err != nil {
			return nil, err
		}
		return tts.NewCartesia(r.creds.CartesiaKey, opts)
	case "volcengine":
		if err := require(spec, r.creds.Volcengine.AppID, r.creds.Volcengine.AccessToken); err != nil {
			return nil, err
		}
		return volcengine.NewTTS(r.creds.Volcengine, opts)
	}
	return nil, fmt.Errorf("%w: tts %q", ErrUnknownProvider, spec.Provider)
}

// VAD 构造语音活动检测插件
func (r *Registry) VAD(spec ProviderSpec) (agent.VAD, error) {
	switch spec.Provider {
	case "":
		return nil, nil
	case "rms", "silero":
		return vad.New(vad.DefaultParams())
	}
	return nil, fmt.Errorf("%w: vad %q", ErrUnknownProvider, spec.Provider)
}

// TurnDetector 构造轮次检测插件
func (r *Registry) TurnDetector(spec ProviderSpec) (agent.TurnDetector, error) {
	switch spec.Provider {
	case "":
		return nil, nil
	case "multilingual":
		return turn.NewMultilingual(), nil
	}
	return nil, fmt.Errorf("%w: turn detection %q", ErrUnknownProvider, spec.Provider)
}

// NoiseCanceller 每次调用返回新实例
func (r *Registry) NoiseCanceller(spec ProviderSpec) (agent.NoiseCanceller, error) {
	switch spec.Provider {
	case "":
		return nil, nil
	case "bvc", "nc":
		return noise.NewBVC(), nil
	}
	return nil, fmt.Errorf("%w: noise cancellation %q", ErrUnknownProvider, spec.Provider)
}

func require(spec ProviderSpec, values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", ErrMissingCredentials, spec)
		}
	}
	return nil
}
