package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"google.golang.org/genai"
)

// NewOpenAI 兼容 OpenAI 协议的模型，默认 gpt-4o-mini。
func NewOpenAI(ctx context.Context, cfg config.OpenAIConfig, modelName string, sampling config.SamplingConfig) (*Chain, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	temperature, topP := toFloat32(sampling.Temperature), toFloat32(sampling.TopP)
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       modelName,
		MaxTokens:   sampling.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai chat model: %w", err)
	}
	return NewChain(ctx, "openai", modelName, chatModel)
}

// NewArk 方舟模型，modelName 为空时使用 ARK_MODEL。
func NewArk(ctx context.Context, cfg config.ArkConfig, modelName string, sampling config.SamplingConfig) (*Chain, error) {
	if modelName == "" {
		modelName = cfg.Model
	}
	if !cfg.Enabled() || modelName == "" {
		return nil, errors.New("ark: 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	temperature, topP := toFloat32(sampling.Temperature), toFloat32(sampling.TopP)
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		Model:       modelName,
		MaxTokens:   sampling.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model: %w", err)
	}
	return NewChain(ctx, "ark", modelName, chatModel)
}

// NewGemini Google Gemini 模型，默认 gemini-2.0-flash。
func NewGemini(ctx context.Context, apiKey, modelName string, sampling config.SamplingConfig) (*Chain, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature, topP := toFloat32(sampling.Temperature), toFloat32(sampling.TopP)
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       modelName,
		MaxTokens:   sampling.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini chat model: %w", err)
	}
	return NewChain(ctx, "gemini", modelName, chatModel)
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}
