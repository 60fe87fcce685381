// Package stt 实现基于 WebSocket 的流式语音识别插件。
package stt

import (
	"context"
	"sync"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
)

const eventBuffer = 32

// Events 识别事件出口。Close 之后 Emit 不再投递。
type Events struct {
	ctx context.Context
	ch  chan agent.SpeechEvent

	mu     sync.Mutex
	closed bool
}

// NewEvents 创建事件出口，ctx 结束后 Emit 不再阻塞。
func NewEvents(ctx context.Context) *Events {
	return &Events{ctx: ctx, ch: make(chan agent.SpeechEvent, eventBuffer)}
}

// C 返回只读事件通道。
func (e *Events) C() <-chan agent.SpeechEvent { return e.ch }

// Emit 投递事件，ctx 已结束时丢弃并返回 false。
func (e *Events) Emit(ev agent.SpeechEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Fail 投递错误事件。
func (e *Events) Fail(err error) {
	e.Emit(agent.SpeechEvent{Type: agent.SpeechError, Err: err})
}

// Close 关闭事件通道，可重复调用。阻塞中的 Emit 需要先取消 ctx。
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
