package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/wsconn"
)

// ErrEmptyText 合成文本为空。
var ErrEmptyText = errors.New("tts text is empty")

// Options 各合成服务共用的参数，未使用的字段由具体服务忽略。
type Options struct {
	Model         string
	Voice         string
	Language      string
	SampleRate    int
	Speed         float64
	ReduceLatency bool
	// Endpoint 覆盖默认服务地址。
	Endpoint string
}

// decodeFunc 解析一条服务端消息，返回音频数据以及是否结束。
type decodeFunc func(message []byte) (pcm []byte, done bool, err error)

// dialStream 建立单句合成连接，发送请求后在后台把音频推入 Stream。
func dialStream(ctx context.Context, label, url string, header http.Header, sampleRate int, requests []any, decode decodeFunc) (agent.AudioStream, error) {
	conn, _, err := wsconn.Dial(ctx, url, header, wsconn.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("%s dial: %w", label, err)
	}

	stream := NewStream(ctx, sampleRate, func() { _ = conn.Close() })
	conn.CloseOnDone(stream.Context())

	for _, req := range requests {
		if err := conn.WriteJSON(req); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("%s send request: %w", label, err)
		}
	}

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				switch {
				case stream.Context().Err() != nil:
					stream.Finish(stream.Context().Err())
				case wsconn.IsClosed(err):
					stream.Finish(nil)
				default:
					stream.Finish(fmt.Errorf("%s read: %w", label, err))
				}
				return
			}

			pcm, done, err := decode(message)
			if err != nil {
				stream.Finish(fmt.Errorf("%s: %w", label, err))
				return
			}
			if len(pcm) > 0 {
				if err := stream.PushPCM(pcm); err != nil {
					stream.Finish(err)
					return
				}
			}
			if done {
				stream.Finish(nil)
				_ = conn.Close()
				return
			}
		}
	}()

	return stream, nil
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}
