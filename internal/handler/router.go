package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/z-podcast/backend/internal/handler/chat"
	"github.com/zhouzirui/z-podcast/backend/internal/handler/persona"
	"github.com/zhouzirui/z-podcast/backend/internal/handler/podcast"
	"github.com/zhouzirui/z-podcast/backend/internal/handler/stream"
	personaModel "github.com/zhouzirui/z-podcast/backend/internal/model/persona"
	chatService "github.com/zhouzirui/z-podcast/backend/internal/service/chat"
	podcastService "github.com/zhouzirui/z-podcast/backend/internal/service/podcast"
)

// Deps API 服务依赖的组件，Rooms 可以为空。
type Deps struct {
	Personas       personaModel.Store
	Transcripts    *chatService.Service
	Podcasts       *podcastService.Service
	Rooms          podcast.RoomProvisioner
	ServerURL      string
	AgentName      string
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		podcast.New(deps.Podcasts, deps.Rooms, deps.ServerURL, deps.AgentName).RegisterRoutes(api)
		MountTranscripts(api, deps.Transcripts)
	})

	return r
}

// MountTranscripts 注册会话、字幕查询与字幕推送路由。
func MountTranscripts(r chi.Router, transcripts *chatService.Service) {
	chat.New(transcripts).RegisterRoutes(r)
	stream.New(transcripts).RegisterRoutes(r)
}
