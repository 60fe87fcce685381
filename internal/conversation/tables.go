// Package conversation 组装语音会话并驱动助手与播客两种脚本。
package conversation

import "github.com/zhouzirui/z-podcast/backend/internal/plugins"

// ProviderTable 一个会话使用的全部插件。
type ProviderTable struct {
	STT               plugins.ProviderSpec
	LLM               plugins.ProviderSpec
	TTS               plugins.ProviderSpec
	VAD               plugins.ProviderSpec
	TurnDetection     plugins.ProviderSpec
	NoiseCancellation plugins.ProviderSpec

	AllowInterruptions bool
	// DisableAutoReply 用户说完后不自动回复，由脚本决定何时发言。
	DisableAutoReply bool
	// AudioDisabled 不收听房间音频。
	AudioDisabled bool
}

// AssistantTable 单助手会话的插件配置。
func AssistantTable() ProviderTable {
	return ProviderTable{
		STT:                plugins.ProviderSpec{Provider: "assemblyai", Model: "default", Language: "en"},
		LLM:                plugins.ProviderSpec{Provider: "openai", Model: "gpt-4o-mini"},
		TTS:                plugins.ProviderSpec{Provider: "rime", Model: "default", Voice: "alloy"},
		VAD:                plugins.ProviderSpec{Provider: "rms"},
		TurnDetection:      plugins.ProviderSpec{Provider: "multilingual"},
		NoiseCancellation:  plugins.ProviderSpec{Provider: "bvc"},
		AllowInterruptions: true,
	}
}

const (
	podcastTTSModel  = "mistv2"
	podcastSpeed     = 1.0
	podcastLLMModel  = "gpt-4o-mini"
	hostVoice        = "abbie"
	guestVoice       = "rainforest"
	podcastLanguage  = "en"
	podcastSTTModel  = "default"
	podcastSTTVendor = "assemblyai"
)

// PodcastTables 主持人与嘉宾的插件配置。
// 主持人收听听众发言但不自动回复；嘉宾只说不听。
func PodcastTables() (host, guest ProviderTable) {
	host = ProviderTable{
		STT:               plugins.ProviderSpec{Provider: podcastSTTVendor, Model: podcastSTTModel, Language: podcastLanguage},
		LLM:               plugins.ProviderSpec{Provider: "openai", Model: podcastLLMModel},
		TTS:               podcastVoice(hostVoice),
		VAD:               plugins.ProviderSpec{Provider: "rms"},
		TurnDetection:     plugins.ProviderSpec{Provider: "multilingual"},
		NoiseCancellation: plugins.ProviderSpec{Provider: "bvc"},
		DisableAutoReply:  true,
	}
	guest = ProviderTable{
		LLM:              plugins.ProviderSpec{Provider: "openai", Model: podcastLLMModel},
		TTS:              podcastVoice(guestVoice),
		DisableAutoReply: true,
		AudioDisabled:    true,
	}
	return host, guest
}

func podcastVoice(voice string) plugins.ProviderSpec {
	return plugins.ProviderSpec{
		Provider:      "rime",
		Model:         podcastTTSModel,
		Voice:         voice,
		Language:      podcastLanguage,
		SpeedAlpha:    podcastSpeed,
		ReduceLatency: true,
	}
}
