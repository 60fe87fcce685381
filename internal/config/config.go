package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile 是本地开发使用的凭证文件。
const DefaultEnvFile = ".env.local"

// ErrMissingValue 表示必需的配置项为空。
var ErrMissingValue = errors.New("missing required config value")

// Config 聚合整个服务的配置项，作为显式参数传给需要凭证的组件。
type Config struct {
	Server    ServerConfig
	LiveKit   LiveKitConfig
	Worker    WorkerConfig
	Script    ScriptConfig
	Providers ProviderConfig
}

// Load 读取 dotenv 文件并叠加进程环境变量，进程环境优先。
// 文件不存在时只使用进程环境；该过程不会修改进程环境。
func Load(path string) (*Config, error) {
	values := environ()

	if path != "" {
		fileValues, err := godotenv.Read(path)
		switch {
		case err == nil:
			for key, value := range fileValues {
				if _, ok := values[key]; !ok {
					values[key] = value
				}
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
	}

	return FromMap(values)
}

// FromMap 从给定键值构建配置，便于测试与嵌入。
func FromMap(values map[string]string) (*Config, error) {
	src := source(values)

	server, err := loadServerConfig(src)
	if err != nil {
		return nil, err
	}

	worker, err := loadWorkerConfig(src)
	if err != nil {
		return nil, err
	}

	script, err := loadScriptConfig(src)
	if err != nil {
		return nil, err
	}

	providers, err := loadProviderConfig(src)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		LiveKit:   loadLiveKitConfig(src),
		Worker:    worker,
		Script:    script,
		Providers: providers,
	}, nil
}

func environ() map[string]string {
	values := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			values[key] = value
		}
	}
	return values
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// PublicLiveKitURL 下发给浏览器的房间地址，默认与 LiveKit.URL 相同。
	PublicLiveKitURL string
	AllowedOrigins   []string
}

func loadServerConfig(src source) (ServerConfig, error) {
	addr, err := parseAddr(src, "PORT", "8080")
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Addr:             addr,
		PublicLiveKitURL: src.getEnvOrDefault("LIVEKIT_PUBLIC_URL", src.get("LIVEKIT_URL")),
		AllowedOrigins:   splitList(src.getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseAddr 允许传入 "8080"、":8080" 或 "127.0.0.1:8080"。
func parseAddr(src source, key, defaultPort string) (string, error) {
	port := src.getEnvOrDefault(key, defaultPort)
	if strings.Contains(port, ":") {
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid %s value: %q", key, port)
	}
	return ":" + port, nil
}

// LiveKitConfig 房间服务地址与 API 凭证。
type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

func loadLiveKitConfig(src source) LiveKitConfig {
	return LiveKitConfig{
		URL:       src.get("LIVEKIT_URL"),
		APIKey:    src.get("LIVEKIT_API_KEY"),
		APISecret: src.get("LIVEKIT_API_SECRET"),
	}
}

// Validate 检查连接房间所需的三项配置。
func (c LiveKitConfig) Validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("%w: LIVEKIT_URL", ErrMissingValue)
	case c.APIKey == "":
		return fmt.Errorf("%w: LIVEKIT_API_KEY", ErrMissingValue)
	case c.APISecret == "":
		return fmt.Errorf("%w: LIVEKIT_API_SECRET", ErrMissingValue)
	}
	return nil
}

// WorkerConfig 任务进程配置。
type WorkerConfig struct {
	AgentName    string
	Namespace    string
	MaxJobs      int
	HTTPAddr     string
	PingInterval time.Duration
}

func loadWorkerConfig(src source) (WorkerConfig, error) {
	maxJobs, err := src.parseOptionalIntEnv("WORKER_MAX_JOBS")
	if err != nil {
		return WorkerConfig{}, err
	}
	jobs := 4
	if maxJobs != nil {
		jobs = max(*maxJobs, 1)
	}

	addr, err := parseAddr(src, "WORKER_HTTP_PORT", "8081")
	if err != nil {
		return WorkerConfig{}, err
	}

	ping, err := src.parseDurationEnv("WORKER_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return WorkerConfig{}, err
	}

	return WorkerConfig{
		AgentName:    src.get("AGENT_NAME"),
		Namespace:    src.get("WORKER_NAMESPACE"),
		MaxJobs:      jobs,
		HTTPAddr:     addr,
		PingInterval: ping,
	}, nil
}

// PaceMode 播客轮次之间的等待方式。
type PaceMode string

const (
	// PacePlayout 等待上一条回复播完再继续。
	PacePlayout PaceMode = "playout"
	// PaceFixed 固定时长等待，不关心回复是否播完。
	PaceFixed PaceMode = "fixed"
)

// ScriptConfig 播客脚本参数。
type ScriptConfig struct {
	Rounds     int
	Pace       PaceMode
	TurnGap    time.Duration
	FixedDelay time.Duration
}

func loadScriptConfig(src source) (ScriptConfig, error) {
	rounds := 3
	override, err := src.parseOptionalIntEnv("PODCAST_ROUNDS")
	if err != nil {
		return ScriptConfig{}, err
	}
	if override != nil {
		if *override < 1 {
			return ScriptConfig{}, fmt.Errorf("invalid PODCAST_ROUNDS value %d: must be positive", *override)
		}
		rounds = *override
	}

	pace := PaceMode(strings.ToLower(src.getEnvOrDefault("PODCAST_PACE", string(PacePlayout))))
	if pace != PacePlayout && pace != PaceFixed {
		return ScriptConfig{}, fmt.Errorf("invalid PODCAST_PACE value %q", pace)
	}

	gap, err := src.parseDurationEnv("PODCAST_TURN_GAP", 400*time.Millisecond)
	if err != nil {
		return ScriptConfig{}, err
	}
	fixed, err := src.parseDurationEnv("PODCAST_FIXED_DELAY", 5*time.Second)
	if err != nil {
		return ScriptConfig{}, err
	}

	return ScriptConfig{Rounds: rounds, Pace: pace, TurnGap: gap, FixedDelay: fixed}, nil
}

// ProviderConfig 各家语音与模型服务的凭证。
type ProviderConfig struct {
	AssemblyAIKey string
	DeepgramKey   string
	OpenAI        OpenAIConfig
	Ark           ArkConfig
	GeminiKey     string
	RimeKey       string
	ElevenLabsKey string
	CartesiaKey   string
	Volcengine    VolcengineConfig
	Sampling      SamplingConfig
}

// OpenAIConfig 兼容 OpenAI 协议的服务。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// ArkConfig 方舟大模型配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

// VolcengineConfig 火山引擎语音凭证。
type VolcengineConfig struct {
	AppID          string
	AccessToken    string
	ConcurrentMode bool
	Language       string
}

// SamplingConfig 所有 LLM 共用的采样参数，未设置时使用服务端默认值。
type SamplingConfig struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

func loadProviderConfig(src source) (ProviderConfig, error) {
	temperature, err := src.parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return ProviderConfig{}, err
	}
	topP, err := src.parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return ProviderConfig{}, err
	}
	maxTokens, err := src.parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return ProviderConfig{}, err
	}
	concurrent, err := src.parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return ProviderConfig{}, err
	}

	geminiKey := src.get("GOOGLE_API_KEY")
	if geminiKey == "" {
		geminiKey = src.get("GEMINI_API_KEY")
	}

	return ProviderConfig{
		AssemblyAIKey: src.get("ASSEMBLYAI_API_KEY"),
		DeepgramKey:   src.get("DEEPGRAM_API_KEY"),
		OpenAI: OpenAIConfig{
			APIKey:  src.get("OPENAI_API_KEY"),
			BaseURL: src.getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		},
		Ark: ArkConfig{
			APIKey:    src.get("ARK_API_KEY"),
			AccessKey: src.get("ARK_ACCESS_KEY"),
			SecretKey: src.get("ARK_SECRET_KEY"),
			Model:     src.get("ARK_MODEL"),
			BaseURL:   src.getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    src.getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
		GeminiKey:     geminiKey,
		RimeKey:       src.get("RIME_API_KEY"),
		ElevenLabsKey: src.getEnvOrDefault("ELEVEN_API_KEY", src.get("ELEVENLABS_API_KEY")),
		CartesiaKey:   src.get("CARTESIA_API_KEY"),
		Volcengine: VolcengineConfig{
			AppID:          src.get("SPEECH_APP_ID"),
			AccessToken:    src.get("SPEECH_ACCESS_TOKEN"),
			ConcurrentMode: concurrent,
			Language:       src.getEnvOrDefault("SPEECH_LANGUAGE", "zh-CN"),
		},
		Sampling: SamplingConfig{
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		},
	}, nil
}
