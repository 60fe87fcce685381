// Package cli 为 agent 任务进程提供统一的命令行：start、dev、connect。
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/conversation"
	"github.com/zhouzirui/z-podcast/backend/internal/metrics"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins"
	chatService "github.com/zhouzirui/z-podcast/backend/internal/service/chat"
	"github.com/zhouzirui/z-podcast/backend/internal/worker"
)

const (
	flagEnv  = "env"
	flagRoom = "room"
	flagHTTP = "http"
)

// ErrRoomRequired connect 子命令缺少 --room。
var ErrRoomRequired = errors.New("--room is required")

// Runtime 是入口函数构造时可用的共享依赖。
type Runtime struct {
	Config       *config.Config
	Personas     persona.Store
	Transcripts  *chatService.Service
	Configurator conversation.Configurator
}

// Setup 由具体的 agent 程序提供，返回每个任务执行的入口函数。
type Setup func(rt *Runtime) (worker.Entrypoint, error)

// App 描述一个 agent 程序。
type App struct {
	Use   string
	Short string
	Setup Setup
}

// Execute 运行命令行，出错时以非零状态退出。
func Execute(app App) {
	if err := NewCommand(app).Execute(); err != nil {
		os.Exit(1)
	}
}

// NewCommand 构造根命令及其子命令。
func NewCommand(app App) *cobra.Command {
	root := &cobra.Command{
		Use:           app.Use,
		Short:         app.Short,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String(flagEnv, config.DefaultEnvFile, "dotenv credentials file")
	root.PersistentFlags().String(flagHTTP, "", "health server address, overrides WORKER_HTTP_PORT")

	start := &cobra.Command{
		Use:   "start",
		Short: "Register with LiveKit and serve dispatched jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, app, "")
		},
	}

	dev := &cobra.Command{
		Use:   "dev",
		Short: "Like start, with verbose logging and a single job slot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
			return run(cmd, app, "", func(o *worker.Options) { o.MaxJobs = 1 })
		},
	}

	connect := &cobra.Command{
		Use:   "connect",
		Short: "Join a room directly without dispatch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			room, _ := cmd.Flags().GetString(flagRoom)
			if room == "" {
				return ErrRoomRequired
			}
			return run(cmd, app, room)
		},
	}
	connect.Flags().String(flagRoom, "", "room to join")

	root.AddCommand(start, dev, connect)
	return root
}

// NewRuntime 根据配置构造共享依赖。
func NewRuntime(cfg *config.Config) *Runtime {
	transcripts := chatService.NewService()
	return &Runtime{
		Config:      cfg,
		Personas:    persona.NewMemoryStore(persona.Seed()),
		Transcripts: transcripts,
		Configurator: conversation.Configurator{
			Factory:     plugins.NewRegistry(cfg.Providers),
			Transcripts: transcripts,
		},
	}
}

func run(cmd *cobra.Command, app App, room string, tweaks ...func(*worker.Options)) error {
	envFile, _ := cmd.Flags().GetString(flagEnv)
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if addr, _ := cmd.Flags().GetString(flagHTTP); addr != "" {
		cfg.Worker.HTTPAddr = addr
	}

	rt := NewRuntime(cfg)
	entry, err := app.Setup(rt)
	if err != nil {
		return fmt.Errorf("setup %s: %w", app.Use, err)
	}

	opts := worker.OptionsFromConfig(cfg, entry)
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	w, err := worker.New(opts)
	if err != nil {
		return err
	}

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := w.ListenAndServe(ctx, cfg.Worker.HTTPAddr, rt.Transcripts); err != nil {
			log.Printf("[cli] health server error: %v", err)
		}
	}()

	if room != "" {
		log.Printf("[cli] %s connecting to room %s", app.Use, room)
		err = w.Connect(ctx, room)
	} else {
		err = w.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
