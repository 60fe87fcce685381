package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInterrupted 表示回复在播放结束前被打断。
var ErrInterrupted = errors.New("speech interrupted")

// ReplyOptions 控制一次回复。
type ReplyOptions struct {
	// Instructions 追加到本次回复的指令。
	Instructions string
	// UserInput 非空时先作为用户发言记录，再生成回复。
	UserInput string
	// AllowInterruptions 覆盖会话级设置，nil 表示沿用会话配置。
	AllowInterruptions *bool
}

// SpeechHandle 代表一次排队的回复，完成信号在播放结束、被打断或失败后触发。
type SpeechHandle struct {
	id           string
	opts         ReplyOptions
	fixedText    string
	allowBargeIn bool
	scheduledAt  time.Time

	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	err         error
	text        string
	interrupted bool
	cancel      context.CancelFunc
}

func newSpeechHandle(opts ReplyOptions, fixedText string, allowBargeIn bool) *SpeechHandle {
	return &SpeechHandle{
		id:           "speech_" + uuid.NewString(),
		opts:         opts,
		fixedText:    fixedText,
		allowBargeIn: allowBargeIn,
		scheduledAt:  time.Now(),
		done:         make(chan struct{}),
	}
}

// ID 返回回复标识。
func (h *SpeechHandle) ID() string { return h.id }

// Done 在回复结束后关闭。
func (h *SpeechHandle) Done() <-chan struct{} { return h.done }

// Wait 阻塞到回复结束或 ctx 结束。被打断不视为错误。
func (h *SpeechHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err 返回生成或播放过程中的错误。
func (h *SpeechHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Text 返回已播出的文本。
func (h *SpeechHandle) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text
}

// Interrupted 表示回复被打断。
func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// AllowInterruptions 表示用户发言能否打断该回复。
func (h *SpeechHandle) AllowInterruptions() bool { return h.allowBargeIn }

// Interrupt 停止回复。尚未开始的回复会被直接跳过。
func (h *SpeechHandle) Interrupt() {
	h.mu.Lock()
	if h.finishedLocked() {
		h.mu.Unlock()
		return
	}
	h.interrupted = true
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (h *SpeechHandle) finishedLocked() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// bind 关联播放上下文；已被打断时返回 false。
func (h *SpeechHandle) bind(cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = cancel
	return !h.interrupted
}

func (h *SpeechHandle) appendText(sentence string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.text == "" {
		h.text = sentence
		return
	}
	h.text += " " + sentence
}

func (h *SpeechHandle) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		if h.interrupted && errors.Is(err, context.Canceled) {
			err = nil
		}
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}
