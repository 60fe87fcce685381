package livekit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
)

type fakeEncoder struct {
	mu     sync.Mutex
	frames [][]int16
}

func (e *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, append([]int16(nil), pcm...))
	data[0] = byte(len(pcm) / 10)
	return 1, nil
}

func (e *fakeEncoder) Frames() [][]int16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]int16(nil), e.frames...)
}

type fakeDecoder struct{ samples int }

func (d fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if data[0] == 0xff {
		return 0, errors.New("corrupt packet")
	}
	for i := 0; i < d.samples; i++ {
		pcm[i] = int16(data[0])
	}
	return d.samples, nil
}

func pcmFrame(samples int, rate int, value int16) audio.Frame {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return audio.Frame{Samples: s, SampleRate: rate, Channels: 1}
}

func TestSinkSplitsIntoOpusFrames(t *testing.T) {
	enc := &fakeEncoder{}
	sink := newSampleSink("agent-assistant", enc)
	ctx := context.Background()

	// 30ms @48kHz：一个完整帧加 10ms 尾巴
	if err := sink.Write(ctx, pcmFrame(1440, audio.SampleRate48kHz, 7)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	sample, err := sink.NextSample(ctx)
	if err != nil {
		t.Fatalf("NextSample returned error: %v", err)
	}
	if sample.Duration != frameDuration || len(sample.Data) != 1 {
		t.Fatalf("unexpected sample: %+v", sample)
	}

	flushed := make(chan error, 1)
	go func() { flushed <- sink.Flush(ctx) }()

	// Flush 补齐的尾帧
	time.Sleep(20 * time.Millisecond)
	if _, err := sink.NextSample(ctx); err != nil {
		t.Fatalf("NextSample returned error: %v", err)
	}
	select {
	case <-flushed:
		t.Fatal("flush returned before the last frame finished playing")
	default:
	}

	if _, err := sink.NextSample(ctx); err != nil {
		t.Fatalf("NextSample returned error: %v", err)
	}
	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("Flush returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not return after playout")
	}

	frames := enc.Frames()
	if len(frames) != 3 {
		t.Fatalf("expected 3 encoded frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f) != frameSamples {
			t.Fatalf("expected %d samples per frame, got %d", frameSamples, len(f))
		}
	}
	if frames[1][0] != 7 || frames[1][frameSamples-1] != 0 {
		t.Fatal("expected tail frame padded with silence")
	}
	if frames[2][0] != 0 {
		t.Fatal("expected silence once the queue drained")
	}
}

func TestSinkResamplesInput(t *testing.T) {
	enc := &fakeEncoder{}
	sink := newSampleSink("t", enc)
	// 20ms @24kHz -> 20ms @48kHz
	if err := sink.Write(context.Background(), pcmFrame(480, audio.SampleRate24kHz, 100)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	sink.mu.Lock()
	queued := len(sink.queue)
	sink.mu.Unlock()
	if queued != 1 {
		t.Fatalf("expected 1 queued frame, got %d", queued)
	}
}

func TestSinkClearReleasesFlush(t *testing.T) {
	sink := newSampleSink("t", &fakeEncoder{})
	ctx := context.Background()
	_ = sink.Write(ctx, pcmFrame(frameSamples*10, audio.SampleRate48kHz, 1))

	flushed := make(chan error, 1)
	go func() { flushed <- sink.Flush(ctx) }()
	time.Sleep(20 * time.Millisecond)
	sink.Clear()

	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("Flush returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not return after clear")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.queue) != 0 {
		t.Fatalf("expected empty queue, got %d", len(sink.queue))
	}
}

func TestSinkClose(t *testing.T) {
	unpublished := false
	sink := newSampleSink("t", &fakeEncoder{})
	sink.unpublish = func() { unpublished = true }
	ctx := context.Background()

	_ = sink.Write(ctx, pcmFrame(frameSamples*3, audio.SampleRate48kHz, 1))
	flushed := make(chan error, 1)
	go func() { flushed <- sink.Flush(ctx) }()
	time.Sleep(20 * time.Millisecond)

	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	_ = sink.Close()
	if !unpublished {
		t.Fatal("expected track to be unpublished")
	}
	if err := <-flushed; !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed from pending flush, got %v", err)
	}
	if err := sink.Write(ctx, pcmFrame(10, audio.SampleRate48kHz, 1)); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if _, err := sink.NextSample(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFlushRespectsContext(t *testing.T) {
	sink := newSampleSink("t", &fakeEncoder{})
	_ = sink.Write(context.Background(), pcmFrame(frameSamples, audio.SampleRate48kHz, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sink.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDecodePacket(t *testing.T) {
	pcm := make([]int16, maxOpusFrame)
	frame, ok := decodePacket(fakeDecoder{samples: 960}, []byte{5}, pcm)
	if !ok || len(frame.Samples) != 960 || frame.SampleRate != audio.SampleRate48kHz || frame.Samples[0] != 5 {
		t.Fatalf("unexpected frame: ok=%v len=%d", ok, len(frame.Samples))
	}
	// 返回的帧不能与解码缓冲区共享内存
	pcm[0] = 99
	if frame.Samples[0] != 5 {
		t.Fatal("decoded frame aliases the decode buffer")
	}
	if _, ok := decodePacket(fakeDecoder{samples: 960}, nil, pcm); ok {
		t.Fatal("expected empty payload to be skipped")
	}
	if _, ok := decodePacket(fakeDecoder{samples: 960}, []byte{0xff}, pcm); ok {
		t.Fatal("expected corrupt payload to be skipped")
	}
}

func TestRoomFanOut(t *testing.T) {
	room := newRoom()
	ctx, cancel := context.WithCancel(context.Background())

	first, err := room.SubscribeAudio(ctx)
	if err != nil {
		t.Fatalf("SubscribeAudio returned error: %v", err)
	}
	second, _ := room.SubscribeAudio(context.Background())

	room.dispatch(pcmFrame(960, audio.SampleRate48kHz, 3))
	for _, ch := range []<-chan audio.Frame{first, second} {
		select {
		case f := <-ch:
			if f.Samples[0] != 3 {
				t.Fatalf("unexpected frame: %v", f.Samples[0])
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive frame")
		}
	}

	cancel()
	select {
	case _, ok := <-first:
		if ok {
			t.Fatal("expected first subscription to close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after cancel")
	}

	room.shutdown()
	room.shutdown()
	if _, ok := <-second; ok {
		t.Fatal("expected subscriptions to close on shutdown")
	}
	select {
	case <-room.Done():
	default:
		t.Fatal("expected Done to close on shutdown")
	}
	if _, err := room.SubscribeAudio(context.Background()); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

func TestRoomWithoutConnection(t *testing.T) {
	room := newRoom()
	if room.Name() != "" || room.Identity() != "" {
		t.Fatal("expected empty name before connect")
	}
	if err := room.PublishData(context.Background(), "lk.transcription", []byte("{}")); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
	if _, err := room.PublishAudio(context.Background(), "agent", audio.SampleRate24kHz); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

func TestGenerateToken(t *testing.T) {
	client := NewClient(config.LiveKitConfig{URL: "ws://localhost:7880", APIKey: "devkey", APISecret: "secret-secret-secret-secret-secret"})

	token, err := client.GenerateToken("podcast-1", "agent-host", "Host", true)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected a JWT, got %q", token)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var claims struct {
		Sub   string `json:"sub"`
		Iss   string `json:"iss"`
		Video struct {
			Room     string `json:"room"`
			RoomJoin bool   `json:"roomJoin"`
			Agent    bool   `json:"agent"`
		} `json:"video"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if claims.Sub != "agent-host" || claims.Iss != "devkey" || claims.Video.Room != "podcast-1" || !claims.Video.RoomJoin || !claims.Video.Agent {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := client.GenerateToken("", "x", "x", false); !errors.Is(err, ErrRoomNameRequired) {
		t.Fatalf("expected ErrRoomNameRequired, got %v", err)
	}

	workerToken, err := client.WorkerToken()
	if err != nil {
		t.Fatalf("WorkerToken returned error: %v", err)
	}
	payload, err = base64.RawURLEncoding.DecodeString(strings.Split(workerToken, ".")[1])
	if err != nil {
		t.Fatalf("decode worker payload: %v", err)
	}
	claims.Video.Room, claims.Video.RoomJoin, claims.Video.Agent = "", false, false
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("unmarshal worker claims: %v", err)
	}
	if !claims.Video.Agent || claims.Video.RoomJoin {
		t.Fatalf("unexpected worker claims: %+v", claims)
	}
}
