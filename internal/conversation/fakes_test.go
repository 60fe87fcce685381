package conversation

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins"
)

// turn 一次 LLM 调用的记录
type turn struct {
	role         string
	instructions string
}

// script 记录所有会话的 LLM 调用顺序。
type script struct {
	mu    sync.Mutex
	turns []turn
}

func (s *script) add(t turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return len(s.turns)
}

func (s *script) snapshot() []turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *script) count(role string) int {
	n := 0
	for _, t := range s.snapshot() {
		if t.role == role {
			n++
		}
	}
	return n
}

type scriptedLLM struct {
	log *script
}

func (l *scriptedLLM) Label() string { return "scripted" }

func (l *scriptedLLM) Stream(_ context.Context, req agent.ChatRequest) (*schema.StreamReader[*schema.Message], error) {
	role := strings.TrimPrefix(req.SystemPrompt, "ROLE=")
	n := l.log.add(turn{role: role, instructions: req.Instructions})

	reply := role + " line " + string(rune('0'+n)) + "."
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(reply, nil)}), nil
}

type silentTTS struct{}

func (silentTTS) Label() string   { return "silent" }
func (silentTTS) SampleRate() int { return audio.SampleRate24kHz }

func (silentTTS) Synthesize(context.Context, string) (agent.AudioStream, error) {
	return &frameStream{frames: []audio.Frame{{Samples: make([]int16, 240), SampleRate: audio.SampleRate24kHz, Channels: 1}}}, nil
}

type frameStream struct {
	frames []audio.Frame
}

func (s *frameStream) Recv() (audio.Frame, error) {
	if len(s.frames) == 0 {
		return audio.Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *frameStream) Close() error { return nil }

// gatedSink Flush 等到 gate 关闭，gate 为空时立即返回。
type gatedSink struct {
	gate chan struct{}
}

func (s *gatedSink) Write(context.Context, audio.Frame) error { return nil }

func (s *gatedSink) Flush(ctx context.Context) error {
	if s.gate == nil {
		return nil
	}
	select {
	case <-s.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *gatedSink) Clear()       {}
func (s *gatedSink) Close() error { return nil }

type testRoom struct {
	mu     sync.Mutex
	tracks []string
	gates  map[string]chan struct{}
	input  chan audio.Frame
}

func newTestRoom() *testRoom {
	return &testRoom{gates: make(map[string]chan struct{}), input: make(chan audio.Frame, 8)}
}

func (r *testRoom) Name() string { return "studio" }

// SubscribeAudio 转发 input 中的帧，直到 ctx 结束。
func (r *testRoom) SubscribeAudio(ctx context.Context) (<-chan audio.Frame, error) {
	ch := make(chan audio.Frame)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-r.input:
				select {
				case ch <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *testRoom) PublishAudio(_ context.Context, trackName string, _ int) (agent.AudioSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, trackName)
	return &gatedSink{gate: r.gates[trackName]}, nil
}

func (r *testRoom) PublishData(context.Context, string, []byte) error { return nil }

func (r *testRoom) Tracks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tracks...)
}

// counter 并发安全的计数
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// recordingSTT 记录推入的帧，不产生识别事件。
type recordingSTT struct {
	pushed *counter
}

func (s recordingSTT) Label() string   { return "recording" }
func (s recordingSTT) SampleRate() int { return audio.SampleRate16kHz }

func (s recordingSTT) NewStream(context.Context) (agent.STTStream, error) {
	return &recordingSTTStream{pushed: s.pushed, events: make(chan agent.SpeechEvent)}, nil
}

type recordingSTTStream struct {
	pushed *counter
	events chan agent.SpeechEvent
	once   sync.Once
}

func (s *recordingSTTStream) Push(audio.Frame) error {
	s.pushed.inc()
	return nil
}

func (s *recordingSTTStream) Events() <-chan agent.SpeechEvent { return s.events }

func (s *recordingSTTStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

// recordingCanceller 记录经过降噪的帧数，原样返回帧。
type recordingCanceller struct {
	processed *counter
}

func (c recordingCanceller) Label() string { return "bvc" }

func (c recordingCanceller) Process(f audio.Frame) audio.Frame {
	c.processed.inc()
	return f
}

// fakeFactory 记录请求的配置，返回不联网的插件。
type fakeFactory struct {
	mu    sync.Mutex
	log   *script
	specs []plugins.ProviderSpec
	err   error

	pushed    counter
	processed counter
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{log: &script{}}
}

func (f *fakeFactory) record(spec plugins.ProviderSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
}

func (f *fakeFactory) voices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.specs {
		if s.Voice != "" {
			out = append(out, s.Voice)
		}
	}
	return out
}

func (f *fakeFactory) STT(_ context.Context, spec plugins.ProviderSpec) (agent.STT, error) {
	f.record(spec)
	return recordingSTT{pushed: &f.pushed}, nil
}

func (f *fakeFactory) LLM(_ context.Context, spec plugins.ProviderSpec) (agent.LLM, error) {
	f.record(spec)
	if f.err != nil {
		return nil, f.err
	}
	return &scriptedLLM{log: f.log}, nil
}

func (f *fakeFactory) TTS(_ context.Context, spec plugins.ProviderSpec) (agent.TTS, error) {
	f.record(spec)
	return silentTTS{}, nil
}

func (f *fakeFactory) VAD(spec plugins.ProviderSpec) (agent.VAD, error) {
	f.record(spec)
	return nil, nil
}

func (f *fakeFactory) TurnDetector(spec plugins.ProviderSpec) (agent.TurnDetector, error) {
	f.record(spec)
	return nil, nil
}

func (f *fakeFactory) NoiseCanceller(spec plugins.ProviderSpec) (agent.NoiseCanceller, error) {
	f.record(spec)
	return recordingCanceller{processed: &f.processed}, nil
}

type fakeJob struct {
	ctx      context.Context
	room     agent.Room
	metadata string

	mu        sync.Mutex
	callbacks []func(context.Context)
}

func newFakeJob(ctx context.Context, room agent.Room) *fakeJob {
	return &fakeJob{ctx: ctx, room: room}
}

func (j *fakeJob) Context() context.Context { return j.ctx }
func (j *fakeJob) Room() agent.Room         { return j.room }
func (j *fakeJob) Metadata() string         { return j.metadata }

func (j *fakeJob) AddShutdownCallback(fn func(context.Context)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.callbacks = append(j.callbacks, fn)
}

func (j *fakeJob) shutdown() {
	j.mu.Lock()
	callbacks := j.callbacks
	j.callbacks = nil
	j.mu.Unlock()
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i](context.Background())
	}
}
