package livekit

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSamples  = opusSampleRate / 50
	// Opus 建议的最大包长
	maxPacketSize = 1275
)

// ErrSinkClosed 音轨已关闭
var ErrSinkClosed = errors.New("audio sink closed")

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// sampleSink 既是会话的 AudioSink，也是 LocalSampleTrack 的 SampleProvider。
// 轨道按样本时长节拍拉取，队列为空时发送静音以保持时钟连续。
type sampleSink struct {
	name      string
	enc       encoder
	unpublish func()

	mu      sync.Mutex
	queue   [][]int16
	pending []int16 // 不足 20ms 的尾部样本
	playing bool
	waiters []chan struct{}
	closed  bool
	silence []int16
}

var _ agent.AudioSink = (*sampleSink)(nil)

func newSampleSink(name string, enc encoder) *sampleSink {
	return &sampleSink{name: name, enc: enc, silence: make([]int16, frameSamples)}
}

// Write 转换为 48kHz 单声道后按 20ms 切片入队。
func (s *sampleSink) Write(ctx context.Context, frame audio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame.Empty() {
		return nil
	}
	if frame.SampleRate != opusSampleRate || frame.Channels > 1 {
		var err error
		if frame, err = audio.Resample(frame, opusSampleRate); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	samples := append(s.pending, frame.Samples...)
	for len(samples) >= frameSamples {
		chunk := make([]int16, frameSamples)
		copy(chunk, samples[:frameSamples])
		s.queue = append(s.queue, chunk)
		samples = samples[frameSamples:]
	}
	s.pending = append([]int16(nil), samples...)
	return nil
}

// Flush 补齐尾部样本并阻塞到队列播放完毕。
func (s *sampleSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	if len(s.pending) > 0 {
		chunk := make([]int16, frameSamples)
		copy(chunk, s.pending)
		s.queue = append(s.queue, chunk)
		s.pending = nil
	}
	if len(s.queue) == 0 && !s.playing {
		s.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	s.waiters = append(s.waiters, done)
	s.mu.Unlock()

	select {
	case <-done:
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return ErrSinkClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear 丢弃尚未播放的音频，等待中的 Flush 立即返回。
func (s *sampleSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.pending = nil
	s.playing = false
	s.release()
}

// Close 停止音轨
func (s *sampleSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.pending = nil
	s.release()
	unpublish := s.unpublish
	s.mu.Unlock()

	if unpublish != nil {
		unpublish()
	}
	return nil
}

// release 需持有 mu
func (s *sampleSink) release() {
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}

// next 取出下一帧，队列由满变空时唤醒 Flush。
func (s *sampleSink) next() ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if len(s.queue) > 0 {
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.playing = true
		return chunk, nil
	}
	// 上一帧已按时长播完
	if s.playing {
		s.playing = false
		s.release()
	}
	return s.silence, nil
}

// NextSample 实现 lksdk.SampleProvider
func (s *sampleSink) NextSample(ctx context.Context) (media.Sample, error) {
	if err := ctx.Err(); err != nil {
		return media.Sample{}, err
	}
	pcm, err := s.next()
	if err != nil {
		return media.Sample{}, err
	}

	data := make([]byte, maxPacketSize)
	n, err := s.enc.Encode(pcm, data)
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: data[:n], Duration: frameDuration}, nil
}

func (s *sampleSink) OnBind() error   { return nil }
func (s *sampleSink) OnUnbind() error { return nil }
