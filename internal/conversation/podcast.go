package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
)

// ErrInvalidScript 脚本参数不合法
var ErrInvalidScript = errors.New("invalid podcast script")

const defaultTopic = "how AI voice assistants are changing everyday life"

// ScriptOptions 播客脚本参数。
type ScriptOptions struct {
	Rounds int
	Pace   config.PaceMode
	// TurnGap 回复播完后的停顿
	TurnGap time.Duration
	// FixedDelay 固定节奏下每次发言后的等待
	FixedDelay time.Duration
}

// DefaultScript 三轮问答，按播放完成推进。
func DefaultScript() ScriptOptions {
	return ScriptOptions{Rounds: 3, Pace: config.PacePlayout, TurnGap: 400 * time.Millisecond, FixedDelay: 5 * time.Second}
}

// ScriptFromConfig 使用进程配置中的脚本参数。
func ScriptFromConfig(cfg config.ScriptConfig) ScriptOptions {
	return ScriptOptions{Rounds: cfg.Rounds, Pace: cfg.Pace, TurnGap: cfg.TurnGap, FixedDelay: cfg.FixedDelay}
}

func (o ScriptOptions) validate() error {
	if o.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be positive, got %d", ErrInvalidScript, o.Rounds)
	}
	switch o.Pace {
	case config.PacePlayout, config.PaceFixed:
	default:
		return fmt.Errorf("%w: unknown pace %q", ErrInvalidScript, o.Pace)
	}
	return nil
}

// pause 等待一次发言结束。按播放完成推进时，先等完成信号再停顿 TurnGap；
// 固定节奏时不看完成信号，只等 FixedDelay。
func (o ScriptOptions) pause(ctx context.Context, h *agent.SpeechHandle) error {
	delay := o.FixedDelay
	if o.Pace == config.PacePlayout {
		if err := h.Wait(ctx); err != nil {
			return err
		}
		delay = o.TurnGap
	}
	return sleep(ctx, delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cast 播客的两位角色。
type Cast struct {
	Host  persona.Persona
	Guest persona.Persona
}

// RunPodcast 在同一房间启动主持人与嘉宾，按脚本轮流发言，最后由主持人收尾。
func RunPodcast(job Job, c Configurator, cast Cast, opts ScriptOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	ctx := job.Context()
	hostTable, guestTable := PodcastTables()

	host, hostIn, err := c.Build(ctx, hostTable, cast.Host)
	if err != nil {
		return err
	}
	guest, guestIn, err := c.Build(ctx, guestTable, cast.Guest)
	if err != nil {
		return err
	}

	if err := host.Start(ctx, job.Room(), cast.Host, hostIn); err != nil {
		return err
	}
	job.AddShutdownCallback(closeSession("host", host))
	if err := guest.Start(ctx, job.Room(), cast.Guest, guestIn); err != nil {
		return err
	}
	job.AddShutdownCallback(closeSession("guest", guest))

	topic := topicFromMetadata(job.Metadata())
	log.Printf("[podcast] starting %d rounds on %q (pace=%s)", opts.Rounds, topic, opts.Pace)

	var lastAnswer string
	for round := 1; round <= opts.Rounds; round++ {
		question, err := speak(ctx, host, questionInstructions(topic, round, lastAnswer), opts)
		if err != nil {
			return fmt.Errorf("round %d host: %w", round, err)
		}
		if lastAnswer, err = speak(ctx, guest, answerInstructions(topic, question), opts); err != nil {
			return fmt.Errorf("round %d guest: %w", round, err)
		}
	}

	h, err := host.GenerateReply(ctx, agent.ReplyOptions{Instructions: closingInstructions(topic, lastAnswer)})
	if err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	if opts.Pace == config.PacePlayout {
		if err := h.Wait(ctx); err != nil {
			return fmt.Errorf("closing: %w", err)
		}
	}
	log.Printf("[podcast] script finished after %d rounds", opts.Rounds)
	return nil
}

// speak 发起一次回复并按节奏等待，返回已播出的文本。
func speak(ctx context.Context, s *agent.Session, instructions string, opts ScriptOptions) (string, error) {
	h, err := s.GenerateReply(ctx, agent.ReplyOptions{Instructions: instructions})
	if err != nil {
		return "", err
	}
	if err := opts.pause(ctx, h); err != nil {
		return "", err
	}
	return h.Text(), nil
}

func closeSession(role string, s *agent.Session) func(context.Context) {
	return func(context.Context) {
		if err := s.Close(); err != nil {
			log.Printf("[podcast] close %s session: %v", role, err)
		}
	}
}

// topicFromMetadata 读取派发元数据中的节目标题，解析失败时使用默认话题。
func topicFromMetadata(raw string) string {
	var meta struct {
		Title string `json:"title"`
		Topic string `json:"topic"`
	}
	if raw != "" && json.Unmarshal([]byte(raw), &meta) == nil {
		if t := strings.TrimSpace(meta.Topic); t != "" {
			return t
		}
		if t := strings.TrimSpace(meta.Title); t != "" {
			return t
		}
	}
	return defaultTopic
}

func questionInstructions(topic string, round int, lastAnswer string) string {
	if round == 1 {
		return fmt.Sprintf("Welcome the audience to today's episode about %s, introduce your guest, "+
			"and ask them your first question.", topic)
	}
	if lastAnswer == "" {
		return fmt.Sprintf("Ask your guest a new question about %s.", topic)
	}
	return fmt.Sprintf("Your guest just said: %q. React in one short sentence, "+
		"then ask a follow-up question about %s.", lastAnswer, topic)
}

func answerInstructions(topic, question string) string {
	if question == "" {
		return fmt.Sprintf("Share one insight about %s with the audience.", topic)
	}
	return fmt.Sprintf("The host just asked you: %q. Answer it.", question)
}

func closingInstructions(topic, lastAnswer string) string {
	if lastAnswer == "" {
		return fmt.Sprintf("Thank your guest and the audience, and close today's episode about %s.", topic)
	}
	return fmt.Sprintf("Your guest just said: %q. Thank your guest and the audience, "+
		"and close today's episode about %s.", lastAnswer, topic)
}
