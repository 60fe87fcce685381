package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	lk "github.com/zhouzirui/z-podcast/backend/internal/livekit"
)

var (
	// ErrJobTerminated 服务端要求结束任务
	ErrJobTerminated = errors.New("job terminated")
	// ErrRoomDisconnected 与房间的连接已断开
	ErrRoomDisconnected = errors.New("room disconnected")
	// ErrJobShutdown 入口函数主动结束任务
	ErrJobShutdown = errors.New("job shutdown requested")
)

const shutdownCallbackTimeout = 5 * time.Second

// JobRoom 任务所在的房间连接。
type JobRoom interface {
	agent.Room
	Done() <-chan struct{}
	Disconnect()
}

// RoomConnector 用任务令牌连接房间。
type RoomConnector interface {
	Connect(ctx context.Context, url, token string) (JobRoom, error)
}

type sdkConnector struct {
	client *lk.Client
}

func (c sdkConnector) Connect(ctx context.Context, url, token string) (JobRoom, error) {
	room, err := c.client.ConnectURL(ctx, url, token)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// JobContext 一个任务的运行环境。
type JobContext struct {
	job       *livekit.Job
	room      JobRoom
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	callbacks []func(context.Context)
	once      sync.Once
}

func newJobContext(parent context.Context, job *livekit.Job, room JobRoom) *JobContext {
	ctx, cancel := context.WithCancelCause(parent)
	j := &JobContext{
		job:       job,
		room:      room,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	go func() {
		select {
		case <-room.Done():
			cancel(ErrRoomDisconnected)
		case <-ctx.Done():
		}
	}()
	return j
}

// Job 服务端下发的任务描述
func (j *JobContext) Job() *livekit.Job { return j.job }

// ID 任务标识
func (j *JobContext) ID() string { return j.job.GetId() }

// RoomName 任务所在房间
func (j *JobContext) RoomName() string {
	if name := j.room.Name(); name != "" {
		return name
	}
	return j.job.GetRoom().GetName()
}

// Metadata 派发时附带的元数据
func (j *JobContext) Metadata() string { return j.job.GetMetadata() }

// Room 已连接的房间
func (j *JobContext) Room() agent.Room { return j.room }

// Context 在任务结束时取消，context.Cause 给出原因。
func (j *JobContext) Context() context.Context { return j.ctx }

// AddShutdownCallback 注册任务结束时执行的清理函数，按注册的逆序调用。
func (j *JobContext) AddShutdownCallback(fn func(ctx context.Context)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.callbacks = append(j.callbacks, fn)
}

// Shutdown 主动结束任务。
func (j *JobContext) Shutdown(reason string) {
	log.Printf("[worker] job %s shutdown: %s", j.ID(), reason)
	j.cancel(ErrJobShutdown)
}

func (j *JobContext) terminate() {
	j.cancel(ErrJobTerminated)
}

// finish 执行清理函数并离开房间，可重复调用。
func (j *JobContext) finish() {
	j.once.Do(func() {
		j.cancel(context.Canceled)

		j.mu.Lock()
		callbacks := j.callbacks
		j.callbacks = nil
		j.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownCallbackTimeout)
		defer cancel()
		for i := len(callbacks) - 1; i >= 0; i-- {
			callbacks[i](ctx)
		}
		j.room.Disconnect()
	})
}
