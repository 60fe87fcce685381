package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

const rimeEndpoint = "wss://users.rime.ai/ws2"

// Rime 通过 Rime JSON WebSocket 接口合成语音。
type Rime struct {
	apiKey string
	opts   Options
}

// NewRime 创建 Rime 插件，默认模型 mistv2、输出 24kHz。
func NewRime(apiKey string, opts Options) (*Rime, error) {
	if apiKey == "" {
		return nil, errors.New("rime: api key is required")
	}
	if opts.Model == "" || opts.Model == "default" {
		opts.Model = "mistv2"
	}
	if opts.Voice == "" {
		return nil, errors.New("rime: voice is required")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate24kHz
	}
	if opts.Endpoint == "" {
		opts.Endpoint = rimeEndpoint
	}
	return &Rime{apiKey: apiKey, opts: opts}, nil
}

func (r *Rime) Label() string   { return "rime" }
func (r *Rime) SampleRate() int { return r.opts.SampleRate }

// Voice 返回发音人。
func (r *Rime) Voice() string { return r.opts.Voice }

// Options 返回合成参数。
func (r *Rime) Options() Options { return r.opts }

type rimeMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Message string `json:"message"`
}

// Synthesize 每句话使用一条连接，发送文本后以 eos 结束输入。
func (r *Rime) Synthesize(ctx context.Context, text string) (agent.AudioStream, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("speaker", r.opts.Voice)
	query.Set("modelId", r.opts.Model)
	query.Set("audioFormat", "pcm")
	query.Set("samplingRate", strconv.Itoa(r.opts.SampleRate))
	if lang := rimeLanguage(r.opts.Language); lang != "" {
		query.Set("lang", lang)
	}
	if r.opts.Speed > 0 {
		query.Set("speedAlpha", strconv.FormatFloat(r.opts.Speed, 'f', -1, 64))
	}
	if r.opts.ReduceLatency {
		query.Set("reduceLatency", "true")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.apiKey)

	requests := []any{
		map[string]string{"text": text},
		map[string]string{"operation": "eos"},
	}
	return dialStream(ctx, "rime", r.opts.Endpoint+"?"+query.Encode(), header, r.opts.SampleRate, requests, decodeRime)
}

func decodeRime(message []byte) ([]byte, bool, error) {
	var msg rimeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case "chunk":
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decode audio: %w", err)
		}
		return pcm, false, nil
	case "done":
		return nil, true, nil
	case "error":
		return nil, false, fmt.Errorf("server error: %s", msg.Message)
	}
	return nil, false, nil
}

// rimeLanguage 把 ISO 639-1 语种转换为 Rime 使用的三字母代码。
func rimeLanguage(lang string) string {
	switch lang {
	case "":
		return ""
	case "en", "en-US", "eng":
		return "eng"
	case "es", "spa":
		return "spa"
	case "fr", "fra":
		return "fra"
	case "de", "ger":
		return "ger"
	}
	return lang
}
