package stream

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-podcast/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-podcast/backend/internal/service/chat"
	"github.com/zhouzirui/z-podcast/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler 通过 Server-Sent Events 推送实时字幕
type Handler struct {
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, heartbeat: heartbeatInterval}
}

// RegisterRoutes 注册字幕流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/transcripts/{sessionID}/stream", h.handleStream)
}

// StreamEvent 一条推送事件
type StreamEvent struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
	Message   any    `json:"message,omitempty"`
	Time      string `json:"time,omitempty"`
}

// handleStream 先回放已有记录，再持续推送新消息直到客户端断开。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	// 先订阅再读取历史，避免漏掉中间写入的消息
	updates, cancel, err := h.chatSvc.Subscribe(ctx, sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	defer cancel()

	history, err := h.chatSvc.LoadTranscript(ctx, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	log.Printf("[sse] opening transcript stream for session=%s", sessionID)

	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		seen[msg.ID] = struct{}{}
		if err := sendMessage(w, flusher, sessionID, msg); err != nil {
			log.Printf("[sse] replay aborted for session=%s: %v", sessionID, err)
			return
		}
	}
	if err := utils.SendSSEChunk(w, flusher, StreamEvent{Event: "ready", SessionID: sessionID}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing transcript stream for session=%s", sessionID)
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			err = sendMessage(w, flusher, sessionID, msg)
		case t := <-ticker.C:
			err = utils.SendSSEChunk(w, flusher, StreamEvent{
				Event:     "heartbeat",
				SessionID: sessionID,
				Time:      t.UTC().Format(time.RFC3339),
			})
		}
		if err != nil {
			log.Printf("[sse] client gone for session=%s: %v", sessionID, err)
			return
		}
	}
}

func sendMessage(w http.ResponseWriter, flusher http.Flusher, sessionID string, msg chat.Message) error {
	return utils.SendSSEEvent(w, flusher, "message", StreamEvent{Event: "message", SessionID: sessionID, Message: msg})
}
