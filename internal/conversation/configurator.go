package conversation

import (
	"context"
	"fmt"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins"
	chatservice "github.com/zhouzirui/z-podcast/backend/internal/service/chat"
)

// Factory 按 ProviderSpec 构造插件，*plugins.Registry 实现了该接口。
type Factory interface {
	STT(ctx context.Context, spec plugins.ProviderSpec) (agent.STT, error)
	LLM(ctx context.Context, spec plugins.ProviderSpec) (agent.LLM, error)
	TTS(ctx context.Context, spec plugins.ProviderSpec) (agent.TTS, error)
	VAD(spec plugins.ProviderSpec) (agent.VAD, error)
	TurnDetector(spec plugins.ProviderSpec) (agent.TurnDetector, error)
	NoiseCanceller(spec plugins.ProviderSpec) (agent.NoiseCanceller, error)
}

var _ Factory = (*plugins.Registry)(nil)

// Configurator 把插件配置表变成可启动的会话。
type Configurator struct {
	Factory Factory
	// Transcripts 为空时每个会话使用独立存储。
	Transcripts *chatservice.Service
}

// Build 构造会话但不启动，插件构造失败时原样返回错误。
func (c Configurator) Build(ctx context.Context, table ProviderTable, p persona.Persona) (*agent.Session, agent.RoomInputOptions, error) {
	var in agent.RoomInputOptions

	llm, err := c.Factory.LLM(ctx, table.LLM)
	if err != nil {
		return nil, in, fmt.Errorf("build %s llm: %w", p.ID, err)
	}
	tts, err := c.Factory.TTS(ctx, table.TTS)
	if err != nil {
		return nil, in, fmt.Errorf("build %s tts: %w", p.ID, err)
	}

	opts := agent.SessionOptions{
		LLM:                llm,
		TTS:                tts,
		AllowInterruptions: table.AllowInterruptions,
		DisableAutoReply:   table.DisableAutoReply,
		Language:           table.STT.Language,
		Transcripts:        c.Transcripts,
	}

	if !table.AudioDisabled {
		if opts.STT, err = c.Factory.STT(ctx, table.STT); err != nil {
			return nil, in, fmt.Errorf("build %s stt: %w", p.ID, err)
		}
		if opts.VAD, err = c.Factory.VAD(table.VAD); err != nil {
			return nil, in, fmt.Errorf("build %s vad: %w", p.ID, err)
		}
		if opts.TurnDetection, err = c.Factory.TurnDetector(table.TurnDetection); err != nil {
			return nil, in, fmt.Errorf("build %s turn detection: %w", p.ID, err)
		}
		if in.NoiseCancellation, err = c.Factory.NoiseCanceller(table.NoiseCancellation); err != nil {
			return nil, in, fmt.Errorf("build %s noise cancellation: %w", p.ID, err)
		}
	}
	in.AudioDisabled = table.AudioDisabled || opts.STT == nil

	return agent.NewSession(opts), in, nil
}
