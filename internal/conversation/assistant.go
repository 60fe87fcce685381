package conversation

import (
	"context"
	"log"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
)

// GreetingInstructions 助手入房后的第一条回复指令。
const GreetingInstructions = "Greet the user and offer your assistance."

// Job 入口函数所需的任务能力，*worker.JobContext 满足该接口。
type Job interface {
	Context() context.Context
	Room() agent.Room
	Metadata() string
	AddShutdownCallback(fn func(ctx context.Context))
}

// RunAssistant 启动单助手会话并问候一次，此后由会话自行应答。
func RunAssistant(job Job, c Configurator, p persona.Persona) error {
	ctx := job.Context()

	session, in, err := c.Build(ctx, AssistantTable(), p)
	if err != nil {
		return err
	}
	if err := session.Start(ctx, job.Room(), p, in); err != nil {
		return err
	}
	job.AddShutdownCallback(func(context.Context) {
		if err := session.Close(); err != nil {
			log.Printf("[assistant] close session: %v", err)
		}
	})

	_, err = session.GenerateReply(ctx, agent.ReplyOptions{Instructions: GreetingInstructions})
	return err
}
