package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

const elevenLabsEndpoint = "wss://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabs 使用 stream-input 接口逐句合成。
type ElevenLabs struct {
	apiKey string
	opts   Options
}

// NewElevenLabs 默认使用低延迟模型 eleven_flash_v2_5。
func NewElevenLabs(apiKey string, opts Options) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	if opts.Model == "" || opts.Model == "default" {
		opts.Model = "eleven_flash_v2_5"
	}
	if opts.Voice == "" {
		opts.Voice = "21m00Tcm4TlvDq8ikWAM"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate24kHz
	}
	if opts.Endpoint == "" {
		opts.Endpoint = elevenLabsEndpoint
	}
	return &ElevenLabs{apiKey: apiKey, opts: opts}, nil
}

func (e *ElevenLabs) Label() string   { return "elevenlabs" }
func (e *ElevenLabs) SampleRate() int { return e.opts.SampleRate }

type elevenLabsMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize 发送文本后以空文本结束输入。
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (agent.AudioStream, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("model_id", e.opts.Model)
	query.Set("output_format", fmt.Sprintf("pcm_%d", e.opts.SampleRate))
	if e.opts.Language != "" {
		query.Set("language_code", e.opts.Language)
	}
	endpoint := fmt.Sprintf("%s/%s/stream-input?%s", e.opts.Endpoint, url.PathEscape(e.opts.Voice), query.Encode())

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)

	first := map[string]any{"text": text + " ", "try_trigger_generation": true}
	if e.opts.Speed > 0 {
		first["voice_settings"] = map[string]any{"speed": e.opts.Speed}
	}
	requests := []any{first, map[string]string{"text": ""}}
	return dialStream(ctx, "elevenlabs", endpoint, header, e.opts.SampleRate, requests, decodeElevenLabs)
}

func decodeElevenLabs(message []byte) ([]byte, bool, error) {
	var msg elevenLabsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	if msg.Error != "" {
		return nil, false, fmt.Errorf("server error: %s %s", msg.Error, msg.Message)
	}

	var pcm []byte
	if msg.Audio != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, false, fmt.Errorf("decode audio: %w", err)
		}
		pcm = decoded
	}
	return pcm, msg.IsFinal, nil
}
