package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	lk "github.com/zhouzirui/z-podcast/backend/internal/livekit"
	"github.com/zhouzirui/z-podcast/backend/internal/metrics"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/wsconn"
)

// Worker 维持与服务端的注册连接并调度任务。
type Worker struct {
	opts   Options
	client *lk.Client

	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	conn     *wsconn.Conn
	workerID string
	pending  map[string]time.Time // 已应答可用、尚未派发的任务及其预留截止时间
	jobs     map[string]*JobContext
}

// New 校验参数并创建任务进程，不做任何网络请求。
func New(opts Options) (*Worker, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	client := lk.NewClient(configFor(opts))
	if opts.Connector == nil {
		opts.Connector = sdkConnector{client: client}
	}

	jobsCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		opts:       opts,
		client:     client,
		jobsCtx:    jobsCtx,
		cancelJobs: cancel,
		pending:    make(map[string]time.Time),
		jobs:       make(map[string]*JobContext),
	}, nil
}

// Run 注册并处理派发，连接断开后按指数退避重连。ctx 结束后等待任务收尾再返回。
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("[worker] starting %s", w.opts)
	defer w.drain()

	delay := w.opts.ReconnectDelay
	for {
		registered, err := w.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if registered {
			delay = w.opts.ReconnectDelay
		}

		log.Printf("[worker] connection lost: %v, reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// serve 处理一次连接的完整生命周期，返回期间是否注册成功。
func (w *Worker) serve(ctx context.Context) (bool, error) {
	token, err := w.client.WorkerToken()
	if err != nil {
		return false, fmt.Errorf("sign worker token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	opts := wsconn.DefaultOptions()
	opts.PingInterval = 0
	opts.MaxRetries = 1
	conn, resp, err := wsconn.Dial(ctx, agentURL(w.opts.URL), header, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return false, err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.CloseOnDone(sessCtx)
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.workerID = ""
		// 断线后服务端不会再派发此前应答的任务
		clear(w.pending)
		w.mu.Unlock()
	}()

	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{Register: w.registerRequest()}}); err != nil {
		return false, fmt.Errorf("send register: %w", err)
	}

	registered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if sessCtx.Err() != nil {
				return registered, nil
			}
			return registered, fmt.Errorf("read server message: %w", err)
		}

		var msg livekit.ServerMessage
		if err := proto.Unmarshal(data, &msg); err != nil {
			log.Printf("[worker] discard malformed server message: %v", err)
			continue
		}

		if reg := msg.GetRegister(); reg != nil && !registered {
			registered = true
			w.mu.Lock()
			w.workerID = reg.GetWorkerId()
			w.mu.Unlock()
			log.Printf("[worker] registered worker_id=%s", reg.GetWorkerId())
			go w.keepalive(sessCtx)
			w.updateStatus()
			continue
		}
		w.handle(&msg)
	}
}

func (w *Worker) registerRequest() *livekit.RegisterWorkerRequest {
	req := &livekit.RegisterWorkerRequest{
		Type:               livekit.JobType_JT_ROOM,
		AgentName:          w.opts.AgentName,
		Version:            w.opts.Version,
		PingInterval:       uint32(w.opts.PingInterval / time.Second),
		AllowedPermissions: w.opts.Permissions,
	}
	if w.opts.Namespace != "" {
		ns := w.opts.Namespace
		req.Namespace = &ns
	}
	return req
}

func (w *Worker) handle(msg *livekit.ServerMessage) {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Availability:
		w.answerAvailability(m.Availability)
	case *livekit.ServerMessage_Assignment:
		w.launch(m.Assignment)
	case *livekit.ServerMessage_Termination:
		w.terminate(m.Termination.GetJobId())
	case *livekit.ServerMessage_Pong:
	default:
		log.Printf("[worker] ignore server message %T", msg.Message)
	}
}

func (w *Worker) answerAvailability(req *livekit.AvailabilityRequest) {
	job := req.GetJob()

	now := time.Now()
	w.mu.Lock()
	w.prunePendingLocked(now)
	available := len(w.jobs)+len(w.pending) < w.opts.MaxJobs
	if available {
		w.pending[job.GetId()] = now.Add(w.opts.AssignTimeout)
	}
	w.mu.Unlock()

	log.Printf("[worker] availability job=%s room=%s available=%t", job.GetId(), job.GetRoom().GetName(), available)
	resp := &livekit.AvailabilityResponse{
		JobId:               job.GetId(),
		Available:           available,
		ParticipantIdentity: participantIdentity(w.opts.AgentName, job),
		ParticipantName:     w.opts.AgentName,
	}
	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{Availability: resp}}); err != nil {
		log.Printf("[worker] answer availability: %v", err)
	}
}

// prunePendingLocked 释放已过期的预留，调用方持有 w.mu。
func (w *Worker) prunePendingLocked(now time.Time) {
	for id, deadline := range w.pending {
		if now.After(deadline) {
			log.Printf("[worker] reservation for job %s expired without assignment", id)
			delete(w.pending, id)
		}
	}
}

func (w *Worker) launch(assignment *livekit.JobAssignment) {
	job := assignment.GetJob()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		room, err := w.opts.Connector.Connect(w.jobsCtx, assignment.GetUrl(), assignment.GetToken())

		w.mu.Lock()
		delete(w.pending, job.GetId())
		w.mu.Unlock()

		if err != nil {
			log.Printf("[worker] job %s: connect room: %v", job.GetId(), err)
			w.updateJob(job.GetId(), livekit.JobStatus_JS_FAILED, err.Error())
			w.updateStatus()
			return
		}
		w.runJob(newJobContext(w.jobsCtx, job, room), true)
	}()
}

// runJob 运行入口函数直到任务结束，report 为 true 时向服务端上报状态。
func (w *Worker) runJob(job *JobContext, report bool) error {
	w.mu.Lock()
	w.jobs[job.ID()] = job
	w.mu.Unlock()

	agentName := w.metricsName()
	metrics.JobStarted(agentName)
	if report {
		w.updateJob(job.ID(), livekit.JobStatus_JS_RUNNING, "")
		w.updateStatus()
	}
	log.Printf("[worker] job %s started in room %s", job.ID(), job.RoomName())

	err := runEntrypoint(w.opts.Entrypoint, job)
	if err == nil {
		<-job.Context().Done()
	} else {
		log.Printf("[worker] job %s failed: %v", job.ID(), err)
	}
	job.finish()

	w.mu.Lock()
	delete(w.jobs, job.ID())
	w.mu.Unlock()

	status, label, errText := livekit.JobStatus_JS_SUCCESS, "success", ""
	if err != nil {
		status, label, errText = livekit.JobStatus_JS_FAILED, "failed", err.Error()
	}
	metrics.JobFinished(agentName, label)
	if report {
		w.updateJob(job.ID(), status, errText)
		w.updateStatus()
	}
	log.Printf("[worker] job %s finished: %s (%v)", job.ID(), label, context.Cause(job.Context()))
	return err
}

func runEntrypoint(entry Entrypoint, job *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entrypoint panic: %v", r)
		}
	}()
	return entry(job)
}

func (w *Worker) terminate(jobID string) {
	w.mu.Lock()
	job, ok := w.jobs[jobID]
	w.mu.Unlock()
	if !ok {
		log.Printf("[worker] termination for unknown job %s", jobID)
		return
	}
	log.Printf("[worker] terminating job %s", jobID)
	job.terminate()
}

func (w *Worker) updateJob(jobID string, status livekit.JobStatus, errText string) {
	msg := &livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{UpdateJob: &livekit.UpdateJobStatus{
		JobId:  jobID,
		Status: status,
		Error:  errText,
	}}}
	if err := w.send(msg); err != nil {
		log.Printf("[worker] update job %s: %v", jobID, err)
	}
}

// updateStatus 上报负载，满载时服务端不再派发。
func (w *Worker) updateStatus() {
	w.mu.Lock()
	count := len(w.jobs)
	w.mu.Unlock()

	status := livekit.WorkerStatus_WS_AVAILABLE
	if count >= w.opts.MaxJobs {
		status = livekit.WorkerStatus_WS_FULL
	}
	msg := &livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateWorker{UpdateWorker: &livekit.UpdateWorkerStatus{
		Status:   &status,
		Load:     float32(count) / float32(w.opts.MaxJobs),
		JobCount: uint32(count),
	}}}
	if err := w.send(msg); err != nil && !errors.Is(err, errNotConnected) {
		log.Printf("[worker] update status: %v", err)
	}
}

func (w *Worker) keepalive(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ping := &livekit.WorkerMessage{Message: &livekit.WorkerMessage_Ping{Ping: &livekit.WorkerPing{Timestamp: now.UnixMilli()}}}
			if err := w.send(ping); err != nil {
				return
			}
			w.updateStatus()
		}
	}
}

var errNotConnected = errors.New("worker not connected")

func (w *Worker) send(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal worker message: %w", err)
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// drain 取消所有任务并等待收尾。
func (w *Worker) drain() {
	w.mu.Lock()
	n := len(w.jobs)
	w.mu.Unlock()
	if n > 0 {
		log.Printf("[worker] draining %d job(s)", n)
	}
	w.cancelJobs()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.opts.DrainTimeout):
		log.Printf("[worker] drain timed out after %s", w.opts.DrainTimeout)
	}
}

func (w *Worker) metricsName() string {
	if w.opts.AgentName == "" {
		return "default"
	}
	return w.opts.AgentName
}

// agentURL 把房间服务地址转换为任务进程注册地址。
func agentURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/") + "/agent"
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent"
	return u.String()
}

func participantIdentity(agentName string, job *livekit.Job) string {
	prefix := agentName
	if prefix == "" {
		prefix = "agent"
	}
	return prefix + "-" + job.GetId()
}
