package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []ChatRequest
}

func (f *fakeLLM) Label() string { return "fake-llm" }

func (f *fakeLLM) Stream(_ context.Context, req ChatRequest) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply, err := f.reply, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var chunks []*schema.Message
	for _, word := range strings.SplitAfter(reply, " ") {
		chunks = append(chunks, schema.AssistantMessage(word, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (f *fakeLLM) Requests() []ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeTTS) Label() string   { return "fake-tts" }
func (f *fakeTTS) SampleRate() int { return audio.SampleRate24kHz }

func (f *fakeTTS) Synthesize(_ context.Context, text string) (AudioStream, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return &fakeAudioStream{frames: []audio.Frame{{
		Samples:    make([]int16, 480),
		SampleRate: audio.SampleRate24kHz,
		Channels:   1,
	}}}, nil
}

func (f *fakeTTS) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeAudioStream struct {
	frames []audio.Frame
}

func (s *fakeAudioStream) Recv() (audio.Frame, error) {
	if len(s.frames) == 0 {
		return audio.Frame{}, io.EOF
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return frame, nil
}

func (s *fakeAudioStream) Close() error { return nil }

type fakeSink struct {
	mu      sync.Mutex
	frames  int
	cleared int
	closed  bool
	// block 非空时 Flush 会等到 ctx 结束或 block 被关闭
	block chan struct{}
}

func (s *fakeSink) Write(_ context.Context, _ audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	s.frames++
	return nil
}

func (s *fakeSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *fakeSink) Cleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

func (s *fakeSink) Clear() {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type dataPacket struct {
	topic   string
	payload []byte
}

type fakeRoom struct {
	mu      sync.Mutex
	name    string
	sink    *fakeSink
	tracks  []string
	packets []dataPacket
	input   chan audio.Frame
}

func newFakeRoom(name string) *fakeRoom {
	return &fakeRoom{name: name, sink: &fakeSink{}, input: make(chan audio.Frame, 16)}
}

func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) SubscribeAudio(ctx context.Context) (<-chan audio.Frame, error) {
	return r.input, nil
}

func (r *fakeRoom) PublishAudio(_ context.Context, trackName string, _ int) (AudioSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, trackName)
	return r.sink, nil
}

func (r *fakeRoom) PublishData(_ context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, dataPacket{topic: topic, payload: payload})
	return nil
}

func (r *fakeRoom) Packets() []dataPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dataPacket, len(r.packets))
	copy(out, r.packets)
	return out
}

type fakeSTT struct {
	stream *fakeSTTStream
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{stream: &fakeSTTStream{events: make(chan SpeechEvent, 16)}}
}

func (f *fakeSTT) Label() string   { return "fake-stt" }
func (f *fakeSTT) SampleRate() int { return audio.SampleRate16kHz }

func (f *fakeSTT) NewStream(context.Context) (STTStream, error) { return f.stream, nil }

type fakeSTTStream struct {
	mu     sync.Mutex
	pushed int
	events chan SpeechEvent
	closed bool
}

func (s *fakeSTTStream) Push(audio.Frame) error {
	s.mu.Lock()
	s.pushed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSTTStream) Events() <-chan SpeechEvent { return s.events }

func (s *fakeSTTStream) Pushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

func (s *fakeSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type fakeTurnDetector struct {
	probability float64
}

func (d fakeTurnDetector) Label() string                { return "fake-turn" }
func (d fakeTurnDetector) SupportsLanguage(string) bool { return true }
func (d fakeTurnDetector) UnlikelyThreshold(string) (float64, error) {
	return 0.5, nil
}
func (d fakeTurnDetector) PredictEndOfTurn(context.Context, TurnContext) (float64, error) {
	return d.probability, nil
}

// fakeCanceller 静音处理过的帧并计数。
type fakeCanceller struct {
	processed atomic.Int32
}

func (c *fakeCanceller) Label() string { return "fake-nc" }

func (c *fakeCanceller) Process(f audio.Frame) audio.Frame {
	c.processed.Add(1)
	return audio.Frame{Samples: make([]int16, len(f.Samples)), SampleRate: f.SampleRate, Channels: f.Channels}
}
