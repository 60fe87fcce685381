package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/handler"
	"github.com/zhouzirui/z-podcast/backend/internal/handler/podcast"
	"github.com/zhouzirui/z-podcast/backend/internal/livekit"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
	"github.com/zhouzirui/z-podcast/backend/internal/service/chat"
	podcastService "github.com/zhouzirui/z-podcast/backend/internal/service/podcast"
)

func main() {
	envFile := flag.String("env", config.DefaultEnvFile, "dotenv 凭证文件")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	transcripts := chat.NewService()

	podcasts := podcastService.NewService()
	if n := podcasts.Seed(ctx); n > 0 {
		log.Printf("seeded %d podcasts", n)
	}

	var rooms podcast.RoomProvisioner
	if err := cfg.LiveKit.Validate(); err != nil {
		log.Printf("warning: %v", err)
		log.Println("LiveKit 凭证未配置，跳过入房接口")
	} else {
		rooms = livekit.NewClient(cfg.LiveKit)
		log.Printf("LiveKit client ready for %s", cfg.LiveKit.URL)
	}

	router := handler.NewRouter(handler.Deps{
		Personas:       personaStore,
		Transcripts:    transcripts,
		Podcasts:       podcasts,
		Rooms:          rooms,
		ServerURL:      cfg.Server.PublicLiveKitURL,
		AgentName:      cfg.Worker.AgentName,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Podcast API listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
