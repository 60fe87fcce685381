package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

const (
	cartesiaEndpoint = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion  = "2024-06-10"
)

// Cartesia 使用 Cartesia WebSocket 接口合成原始 PCM。
type Cartesia struct {
	apiKey string
	opts   Options
}

// NewCartesia 默认模型 sonic-english。
func NewCartesia(apiKey string, opts Options) (*Cartesia, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: api key is required")
	}
	if opts.Model == "" || opts.Model == "default" {
		opts.Model = "sonic-english"
	}
	if opts.Voice == "" {
		opts.Voice = "f786b574-daa5-4673-aa0c-cbe3e8534c02"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate24kHz
	}
	if opts.Endpoint == "" {
		opts.Endpoint = cartesiaEndpoint
	}
	return &Cartesia{apiKey: apiKey, opts: opts}, nil
}

func (c *Cartesia) Label() string   { return "cartesia" }
func (c *Cartesia) SampleRate() int { return c.opts.SampleRate }

type cartesiaRequest struct {
	ContextID    string               `json:"context_id"`
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Language     string               `json:"language,omitempty"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Synthesize 每句话一个 context_id。
func (c *Cartesia) Synthesize(ctx context.Context, text string) (agent.AudioStream, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("api_key", c.apiKey)
	query.Set("cartesia_version", cartesiaVersion)

	req := cartesiaRequest{
		ContextID:  uuid.NewString(),
		ModelID:    c.opts.Model,
		Transcript: text,
		Language:   c.opts.Language,
		Voice:      cartesiaVoice{Mode: "id", ID: c.opts.Voice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.opts.SampleRate,
		},
	}
	return dialStream(ctx, "cartesia", c.opts.Endpoint+"?"+query.Encode(), nil, c.opts.SampleRate, []any{req}, decodeCartesia)
}

func decodeCartesia(message []byte) ([]byte, bool, error) {
	var msg cartesiaMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "error" || msg.Error != "" {
		return nil, false, fmt.Errorf("server error: %s", msg.Error)
	}

	var pcm []byte
	if msg.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decode audio: %w", err)
		}
		pcm = decoded
	}
	return pcm, msg.Done || msg.Type == "done", nil
}
