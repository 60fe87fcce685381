// Package worker 实现 LiveKit agent 任务进程：向服务端注册、接受派发并在房间里运行入口函数。
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/zhouzirui/z-podcast/backend/internal/config"
)

// Entrypoint 每个任务执行一次。返回 nil 后任务保持到房间断开或被终止。
type Entrypoint func(job *JobContext) error

var (
	ErrEntrypointRequired = errors.New("worker entrypoint is required")
	ErrUnauthorized       = errors.New("worker registration rejected")
)

const (
	defaultPingInterval   = 30 * time.Second
	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
	defaultDrainTimeout   = 10 * time.Second
	defaultAssignTimeout  = 10 * time.Second
	defaultVersion        = "0.1.0"
)

// Options 任务进程参数
type Options struct {
	Entrypoint Entrypoint
	// AgentName 为空时接受自动派发，否则只接受显式派发给该名字的任务。
	AgentName string
	URL       string
	APIKey    string
	APISecret string
	Namespace string
	Version   string

	MaxJobs        int
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	DrainTimeout   time.Duration
	// AssignTimeout 应答可用后等待派发的时长，超时释放预留名额。
	AssignTimeout time.Duration

	// Permissions agent 参与者在房间内的权限
	Permissions *livekit.ParticipantPermission
	// Connector 为空时使用 LiveKit SDK 连接房间
	Connector RoomConnector
}

// OptionsFromConfig 用进程配置填充参数。
func OptionsFromConfig(cfg *config.Config, entry Entrypoint) Options {
	return Options{
		Entrypoint:   entry,
		AgentName:    cfg.Worker.AgentName,
		URL:          cfg.LiveKit.URL,
		APIKey:       cfg.LiveKit.APIKey,
		APISecret:    cfg.LiveKit.APISecret,
		Namespace:    cfg.Worker.Namespace,
		MaxJobs:      cfg.Worker.MaxJobs,
		PingInterval: cfg.Worker.PingInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxJobs <= 0 {
		o.MaxJobs = 1
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.AssignTimeout <= 0 {
		o.AssignTimeout = defaultAssignTimeout
	}
	if o.Version == "" {
		o.Version = defaultVersion
	}
	if o.Permissions == nil {
		o.Permissions = &livekit.ParticipantPermission{
			CanSubscribe:      true,
			CanPublish:        true,
			CanPublishData:    true,
			CanUpdateMetadata: true,
		}
	}
	return o
}

func (o Options) validate() error {
	if o.Entrypoint == nil {
		return ErrEntrypointRequired
	}
	return config.LiveKitConfig{URL: o.URL, APIKey: o.APIKey, APISecret: o.APISecret}.Validate()
}

func (o Options) String() string {
	name := o.AgentName
	if name == "" {
		name = "(automatic dispatch)"
	}
	return fmt.Sprintf("agent=%s url=%s maxJobs=%d", name, o.URL, o.MaxJobs)
}
