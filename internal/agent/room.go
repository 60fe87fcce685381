package agent

import (
	"context"

	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

// TopicTranscription 是字幕数据包的主题。
const TopicTranscription = "lk.transcription"

// Room 外部管理的实时音频房间。
type Room interface {
	Name() string
	// SubscribeAudio 返回远端参与者的混合输入音频，ctx 结束后通道关闭。
	SubscribeAudio(ctx context.Context) (<-chan audio.Frame, error)
	// PublishAudio 发布一条本地音轨。
	PublishAudio(ctx context.Context, trackName string, sampleRate int) (AudioSink, error)
	PublishData(ctx context.Context, topic string, payload []byte) error
}

// AudioSink 已发布音轨的写入端。
type AudioSink interface {
	Write(ctx context.Context, frame audio.Frame) error
	// Flush 阻塞直到已写入的音频全部播出。
	Flush(ctx context.Context) error
	// Clear 丢弃尚未播出的音频。
	Clear()
	Close() error
}
