package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"

	"github.com/zhouzirui/z-podcast/backend/internal/config"
)

func configFor(opts Options) config.LiveKitConfig {
	return config.LiveKitConfig{URL: opts.URL, APIKey: opts.APIKey, APISecret: opts.APISecret}
}

// Connect 不经派发直接加入指定房间运行一个任务，用于本地调试。
// 任务结束或 ctx 结束后返回。
func (w *Worker) Connect(ctx context.Context, roomName string) error {
	jobID := "dev_" + uuid.NewString()[:8]
	identity := participantIdentity(w.opts.AgentName, &livekit.Job{Id: jobID})

	token, err := w.client.GenerateToken(roomName, identity, w.metricsName(), true)
	if err != nil {
		return fmt.Errorf("sign room token: %w", err)
	}

	room, err := w.opts.Connector.Connect(ctx, w.opts.URL, token)
	if err != nil {
		return fmt.Errorf("connect room %s: %w", roomName, err)
	}

	job := &livekit.Job{
		Id:        jobID,
		Type:      livekit.JobType_JT_ROOM,
		Room:      &livekit.Room{Name: roomName},
		AgentName: w.opts.AgentName,
	}
	return w.runJob(newJobContext(ctx, job, room), false)
}
