package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

func TestEventsDropAfterClose(t *testing.T) {
	events := NewEvents(context.Background())
	if !events.Emit(agent.SpeechEvent{Type: agent.SpeechInterim, Text: "hi"}) {
		t.Fatal("expected emit to succeed")
	}
	events.Close()
	events.Close()
	if events.Emit(agent.SpeechEvent{Type: agent.SpeechFinal}) {
		t.Fatal("expected emit after close to be dropped")
	}

	var got []agent.SpeechEvent
	for ev := range events.C() {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestEventsUnblockOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := NewEvents(ctx)
	for i := 0; i < eventBuffer; i++ {
		events.Emit(agent.SpeechEvent{})
	}

	done := make(chan bool, 1)
	go func() { done <- events.Emit(agent.SpeechEvent{}) }()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected blocked emit to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("emit did not unblock after cancel")
	}
}

func TestAssemblyAIStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	type seen struct {
		auth       string
		sampleRate string
		audioBytes int
	}
	captured := make(chan seen, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s := seen{auth: r.Header.Get("Authorization"), sampleRate: r.URL.Query().Get("sample_rate")}
		_ = conn.WriteJSON(map[string]any{"type": "Begin", "id": "session-1"})

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				s.audioBytes += len(data)
				if s.audioBytes == len(data) {
					_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "hello", "end_of_turn": false})
				}
				continue
			}
			if strings.Contains(string(data), "Terminate") {
				_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "hello world", "end_of_turn": true, "turn_is_formatted": false})
				_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "Hello world.", "end_of_turn": true, "turn_is_formatted": true, "end_of_turn_confidence": 0.9})
				_ = conn.WriteJSON(map[string]any{"type": "Termination"})
				captured <- s
				return
			}
		}
	}))
	defer server.Close()

	plugin, err := NewAssemblyAI("key-1", AssemblyAIOptions{Endpoint: "ws" + strings.TrimPrefix(server.URL, "http")})
	if err != nil {
		t.Fatalf("NewAssemblyAI returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := plugin.NewStream(ctx)
	if err != nil {
		t.Fatalf("NewStream returned error: %v", err)
	}

	frame := audio.Frame{Samples: make([]int16, 320), SampleRate: audio.SampleRate16kHz, Channels: 1}
	if err := stream.Push(frame); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}

	var events []agent.SpeechEvent
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for ev := range stream.Events() {
			events = append(events, ev)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	<-collected

	s := <-captured
	if s.auth != "key-1" || s.sampleRate != "16000" || s.audioBytes != 640 {
		t.Fatalf("unexpected request: %+v", s)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].Type != agent.SpeechInterim || events[0].Text != "hello" {
		t.Fatalf("unexpected interim: %+v", events[0])
	}
	if events[1].Type != agent.SpeechFinal || events[1].Text != "Hello world." {
		t.Fatalf("unexpected final: %+v", events[1])
	}
	if events[2].Type != agent.SpeechEndOfTurn {
		t.Fatalf("expected end of turn, got %+v", events[2])
	}
}

func TestAssemblyAIResamplesInput(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sizes := make(chan int, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sizes <- len(data)
		_ = conn.WriteJSON(map[string]any{"type": "Termination"})
	}))
	defer server.Close()

	plugin, _ := NewAssemblyAI("key", AssemblyAIOptions{Endpoint: "ws" + strings.TrimPrefix(server.URL, "http")})
	stream, err := plugin.NewStream(context.Background())
	if err != nil {
		t.Fatalf("NewStream returned error: %v", err)
	}
	defer stream.Close()

	// 20ms @48kHz 转换为 20ms @16kHz
	if err := stream.Push(audio.Frame{Samples: make([]int16, 960), SampleRate: audio.SampleRate48kHz, Channels: 1}); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	select {
	case n := <-sizes:
		if n != 640 {
			t.Fatalf("expected 640 bytes, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive audio")
	}
}

func TestConstructorsRequireKey(t *testing.T) {
	if _, err := NewAssemblyAI(" ", AssemblyAIOptions{}); err == nil {
		t.Fatal("expected error for missing assemblyai key")
	}
	if _, err := NewDeepgram("", DeepgramOptions{}); err == nil {
		t.Fatal("expected error for missing deepgram key")
	}

	d, err := NewDeepgram("key", DeepgramOptions{})
	if err != nil {
		t.Fatalf("NewDeepgram returned error: %v", err)
	}
	if d.opts.Model != "nova-3" || d.opts.UtteranceEndMs != 1500 || d.SampleRate() != audio.SampleRate16kHz {
		t.Fatalf("unexpected deepgram defaults: %+v", d.opts)
	}
}

func TestDeepgramReceiverMapsEvents(t *testing.T) {
	stream := &deepgramStream{events: NewEvents(context.Background()), language: "en-US"}
	receiver := &deepgramReceiver{stream: stream}

	interim := &msginterfaces.MessageResponse{}
	interim.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "hel"}}
	final := &msginterfaces.MessageResponse{IsFinal: true}
	final.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "hello", Confidence: 0.8}}

	_ = receiver.Message(interim)
	_ = receiver.Message(final)
	_ = receiver.Message(&msginterfaces.MessageResponse{})
	_ = receiver.UtteranceEnd(&msginterfaces.UtteranceEndResponse{})
	stream.events.Close()

	var got []agent.SpeechEvent
	for ev := range stream.Events() {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %+v", got)
	}
	if got[0].Type != agent.SpeechInterim || got[1].Type != agent.SpeechFinal || got[1].Confidence != 0.8 || got[2].Type != agent.SpeechEndOfTurn {
		t.Fatalf("unexpected events: %+v", got)
	}
}
