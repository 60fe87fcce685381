package podcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"

	podcastModel "github.com/zhouzirui/z-podcast/backend/internal/model/podcast"
	podcastService "github.com/zhouzirui/z-podcast/backend/internal/service/podcast"
	"github.com/zhouzirui/z-podcast/backend/pkg/utils"
)

// RoomProvisioner 为听众签发入房凭证并派发主持人进程。
type RoomProvisioner interface {
	GenerateToken(roomName, identity, name string, isAgent bool) (string, error)
	Dispatch(ctx context.Context, roomName, agentName, metadata string) (*livekit.AgentDispatch, error)
}

// Handler 节目目录的HTTP处理器
type Handler struct {
	podcasts  *podcastService.Service
	rooms     RoomProvisioner
	serverURL string
	agentName string
}

// New 创建处理器，rooms 为空时不提供入房接口。
func New(podcasts *podcastService.Service, rooms RoomProvisioner, serverURL, agentName string) *Handler {
	return &Handler{
		podcasts:  podcasts,
		rooms:     rooms,
		serverURL: serverURL,
		agentName: agentName,
	}
}

// RegisterRoutes 注册节目相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/podcasts", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/seed", h.handleSeed)

		r.Route("/{podcastID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Post("/like", h.handleLike)
			r.Post("/comments", h.handleComment)
			r.Post("/session", h.handleSession)
		})
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.podcasts.List(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req podcastModel.Podcast
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	created, err := h.podcasts.Create(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

// handleSeed 目录为空时写入默认节目
func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	n := h.podcasts.Seed(r.Context())
	message := fmt.Sprintf("Successfully seeded %d podcasts", n)
	if n == 0 {
		message = "Podcasts already exist, skipping seed"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"message": message, "seeded": n})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.podcasts.Get(r.Context(), chi.URLParam(r, "podcastID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req podcastModel.Update
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	updated, err := h.podcasts.Update(r.Context(), chi.URLParam(r, "podcastID"), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.podcasts.Delete(r.Context(), chi.URLParam(r, "podcastID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	p, err := h.podcasts.Like(r.Context(), chi.URLParam(r, "podcastID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	p, err := h.podcasts.AddComment(r.Context(), chi.URLParam(r, "podcastID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

type sessionRequest struct {
	ParticipantName string `json:"participantName"`
}

// SessionMetadata 随派发传给 agent 的节目信息，title 作为播客话题。
type SessionMetadata struct {
	PodcastID string `json:"podcastId"`
	Title     string `json:"title"`
	Host      string `json:"host"`
}

// ConnectionDetails 浏览器加入房间所需的信息
type ConnectionDetails struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName"`
	ParticipantName  string `json:"participantName"`
	ParticipantToken string `json:"participantToken"`
	DispatchID       string `json:"dispatchId,omitempty"`
}

// handleSession 为节目开一个新房间，签发听众 token 并派发主持人进程。
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if h.rooms == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "livekit is not configured")
		return
	}

	p, err := h.podcasts.Get(r.Context(), chi.URLParam(r, "podcastID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var req sessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid json payload")
			return
		}
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	roomName := fmt.Sprintf("podcast_%s_%s", p.ID, suffix)
	identity := "listener_" + suffix
	name := strings.TrimSpace(req.ParticipantName)
	if name == "" {
		name = "Listener"
	}

	token, err := h.rooms.GenerateToken(roomName, identity, name, false)
	if err != nil {
		log.Printf("[podcast] generate token failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metadata, err := json.Marshal(SessionMetadata{PodcastID: p.ID, Title: p.Title, Host: p.Host})
	if err != nil {
		log.Printf("[podcast] encode dispatch metadata failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to encode dispatch metadata")
		return
	}
	dispatch, err := h.rooms.Dispatch(r.Context(), roomName, h.agentName, string(metadata))
	if err != nil {
		log.Printf("[podcast] dispatch agent %q to room %s failed: %v", h.agentName, roomName, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to dispatch agent")
		return
	}

	log.Printf("[podcast] room %s ready for %s (podcast=%s)", roomName, identity, p.ID)
	utils.RespondJSON(w, http.StatusOK, ConnectionDetails{
		ServerURL:        h.serverURL,
		RoomName:         roomName,
		ParticipantName:  name,
		ParticipantToken: token,
		DispatchID:       dispatch.GetId(),
	})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, podcastService.ErrPodcastNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, podcastService.ErrTitleRequired), errors.Is(err, podcastService.ErrDuplicateID):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
