// Package wsconn 为各语音服务的 WebSocket 连接提供重试拨号与保活。
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options 连接参数
type Options struct {
	HandshakeTimeout time.Duration // 握手超时
	WriteTimeout     time.Duration // 写入超时
	PingInterval     time.Duration // Ping 间隔，0 表示不发送
	MaxRetries       int           // 最大尝试次数
	RetryDelay       time.Duration // 第 n 次重试等待 n*RetryDelay
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		MaxRetries:       3,
		RetryDelay:       500 * time.Millisecond,
	}
}

// Conn 对 websocket.Conn 的并发安全封装：写入串行化，读取只允许一个 goroutine。
type Conn struct {
	ws   *websocket.Conn
	opts Options

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Dial 带重试地建立连接。握手阶段的 4xx 响应不会重试。
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*Conn, *http.Response, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		ws, resp, err := dialer.DialContext(ctx, url, header)
		if err == nil {
			conn := &Conn{ws: ws, opts: opts, done: make(chan struct{})}
			if opts.PingInterval > 0 {
				go conn.pingLoop()
			}
			return conn, resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, resp, ctx.Err()
		}
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resp, fmt.Errorf("websocket handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		if attempt == opts.MaxRetries {
			break
		}

		log.Printf("[wsconn] dial attempt %d failed: %v", attempt, err)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * opts.RetryDelay):
		}
	}
	return nil, nil, fmt.Errorf("failed to connect after %d attempts, last error: %w", opts.MaxRetries, lastErr)
}

// Wrap 包装一个已建立的连接。
func Wrap(ws *websocket.Conn, opts Options) *Conn {
	conn := &Conn{ws: ws, opts: opts, done: make(chan struct{})}
	if opts.PingInterval > 0 {
		go conn.pingLoop()
	}
	return conn
}

// WriteJSON 串行写入一条 JSON 文本消息。
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return c.ws.WriteJSON(v)
}

// WriteMessage 串行写入一条原始消息。
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return c.ws.WriteMessage(messageType, data)
}

// ReadMessage 读取下一条消息。
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// ReadJSON 读取下一条 JSON 消息。
func (c *Conn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

// Done 在连接关闭后关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close 发送关闭帧并断开连接，可重复调用。
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.setWriteDeadline()
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// CloseOnDone 在 ctx 结束时关闭连接，用于打断阻塞中的读取。
func (c *Conn) CloseOnDone(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
}

func (c *Conn) setWriteDeadline() {
	if c.opts.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// IsClosed 判断读取错误是否由正常关闭引起。
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed)
}
