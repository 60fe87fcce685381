// Package tts 提供基于 WebSocket 的语音合成插件：Rime、ElevenLabs 与 Cartesia。
package tts

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

const frameDuration = 20 * time.Millisecond

// Stream 把服务端推送的 PCM16 字节切成 20ms 帧交给会话。
// 生产方调用 PushPCM 与 Finish，消费方调用 Recv 与 Close。
type Stream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	sampleRate int
	frames     chan audio.Frame
	onClose    func()

	mu        sync.Mutex
	err       error
	carry     []byte
	finish    sync.Once
	closeOnce sync.Once
}

// NewStream 创建合成流，onClose 在消费方关闭时调用一次，通常用于断开连接。
func NewStream(ctx context.Context, sampleRate int, onClose func()) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:        ctx,
		cancel:     cancel,
		sampleRate: sampleRate,
		frames:     make(chan audio.Frame, 32),
		onClose:    onClose,
	}
}

// Context 在消费方关闭或上游取消时结束。
func (s *Stream) Context() context.Context { return s.ctx }

// PushPCM 追加小端 PCM16 数据，不足一个样本的尾字节留到下次。
func (s *Stream) PushPCM(data []byte) error {
	s.mu.Lock()
	if len(s.carry) > 0 {
		data = append(s.carry, data...)
		s.carry = nil
	}
	if len(data)%2 == 1 {
		s.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	s.mu.Unlock()

	if len(data) == 0 {
		return nil
	}
	frame, err := audio.NewFrame(data, s.sampleRate, 1)
	if err != nil {
		return err
	}
	for _, chunk := range frame.Split(frameDuration) {
		select {
		case s.frames <- chunk:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	return nil
}

// Finish 结束生产，err 为空表示正常结束。
func (s *Stream) Finish(err error) {
	s.finish.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.frames)
	})
}

// Recv 返回下一帧，结束时返回 io.EOF 或生产方的错误。
func (s *Stream) Recv() (audio.Frame, error) {
	select {
	case frame, ok := <-s.frames:
		if ok {
			return frame, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return audio.Frame{}, s.err
		}
		return audio.Frame{}, io.EOF
	case <-s.ctx.Done():
		return audio.Frame{}, s.ctx.Err()
	}
}

// Close 停止接收并释放连接。
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
