package worker

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-podcast/backend/internal/handler"
	chatService "github.com/zhouzirui/z-podcast/backend/internal/service/chat"
	"github.com/zhouzirui/z-podcast/backend/pkg/utils"
)

// JobInfo 运行中任务的摘要
type JobInfo struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	StartedAt time.Time `json:"startedAt"`
}

// Status 任务进程当前状态
type Status struct {
	WorkerID  string    `json:"workerId,omitempty"`
	AgentName string    `json:"agentName,omitempty"`
	Connected bool      `json:"connected"`
	MaxJobs   int       `json:"maxJobs"`
	Load      float64   `json:"load"`
	Jobs      []JobInfo `json:"jobs"`
}

// Status 返回当前连接与任务情况。
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobs := make([]JobInfo, 0, len(w.jobs))
	for _, job := range w.jobs {
		jobs = append(jobs, JobInfo{ID: job.ID(), Room: job.RoomName(), StartedAt: job.startedAt})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })

	return Status{
		WorkerID:  w.workerID,
		AgentName: w.opts.AgentName,
		Connected: w.conn != nil,
		MaxJobs:   w.opts.MaxJobs,
		Load:      float64(len(w.jobs)) / float64(w.opts.MaxJobs),
		Jobs:      jobs,
	}
}

// Handler 健康检查、状态、指标与字幕接口。
func (w *Worker) Handler(transcripts *chatService.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte("OK"))
	})
	r.Get("/worker", func(rw http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(rw, http.StatusOK, w.Status())
	})
	r.Handle("/metrics", promhttp.Handler())
	if transcripts != nil {
		handler.MountTranscripts(r, transcripts)
	}
	return r
}

// ListenAndServe 在 addr 上提供 Handler，ctx 结束后优雅关闭。
func (w *Worker) ListenAndServe(ctx context.Context, addr string, transcripts *chatService.Service) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           w.Handler(transcripts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[worker] health server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
