package audio

import (
	"testing"
	"time"
)

func TestNewFrameRoundTripBytes(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80}
	frame, err := NewFrame(pcm, SampleRate16kHz, 1)
	if err != nil {
		t.Fatalf("NewFrame err: %v", err)
	}

	want := []int16{1, -1, -32768}
	for i, s := range want {
		if frame.Samples[i] != s {
			t.Fatalf("sample %d: got %d want %d", i, frame.Samples[i], s)
		}
	}

	if got := frame.Bytes(); string(got) != string(pcm) {
		t.Fatalf("unexpected bytes: %v", got)
	}
}

func TestNewFrameRejectsOddLength(t *testing.T) {
	if _, err := NewFrame([]byte{0x01}, SampleRate16kHz, 1); err == nil {
		t.Fatal("expected error for odd pcm length")
	}
}

func TestFrameDurationAndSplit(t *testing.T) {
	frame := Frame{Samples: make([]int16, 4800), SampleRate: SampleRate48kHz, Channels: 1}
	if frame.Duration() != 100*time.Millisecond {
		t.Fatalf("unexpected duration: %v", frame.Duration())
	}

	parts := frame.Split(20 * time.Millisecond)
	if len(parts) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(parts))
	}
	for _, p := range parts {
		if p.Duration() != 20*time.Millisecond {
			t.Fatalf("unexpected part duration: %v", p.Duration())
		}
	}
}

func TestFrameRMS(t *testing.T) {
	silent := Frame{Samples: make([]int16, 160), SampleRate: SampleRate16kHz, Channels: 1}
	if silent.RMS() != 0 {
		t.Fatalf("expected zero rms, got %f", silent.RMS())
	}

	loud := Frame{Samples: make([]int16, 160), SampleRate: SampleRate16kHz, Channels: 1}
	for i := range loud.Samples {
		loud.Samples[i] = 16384
	}
	if rms := loud.RMS(); rms < 0.49 || rms > 0.51 {
		t.Fatalf("expected rms around 0.5, got %f", rms)
	}
}

func TestMonoAveragesChannels(t *testing.T) {
	stereo := Frame{Samples: []int16{100, 300, -50, -150}, SampleRate: SampleRate48kHz, Channels: 2}
	mono := stereo.Mono()
	if mono.Channels != 1 || len(mono.Samples) != 2 {
		t.Fatalf("unexpected mono frame: %+v", mono)
	}
	if mono.Samples[0] != 200 || mono.Samples[1] != -100 {
		t.Fatalf("unexpected samples: %v", mono.Samples)
	}
}

func TestResampleChangesLength(t *testing.T) {
	frame := Frame{Samples: make([]int16, 480), SampleRate: SampleRate48kHz, Channels: 1}
	out, err := Resample(frame, SampleRate16kHz)
	if err != nil {
		t.Fatalf("Resample err: %v", err)
	}
	if len(out.Samples) != 160 || out.SampleRate != SampleRate16kHz {
		t.Fatalf("unexpected resample output: len=%d rate=%d", len(out.Samples), out.SampleRate)
	}
	if out.Duration() != frame.Duration() {
		t.Fatalf("duration changed: %v vs %v", out.Duration(), frame.Duration())
	}
}

func TestWAVRoundTrip(t *testing.T) {
	frame := Frame{Samples: []int16{1, 2, 3, -4}, SampleRate: SampleRate24kHz, Channels: 1}
	decoded, err := DecodeWAV(EncodeWAV(frame))
	if err != nil {
		t.Fatalf("DecodeWAV err: %v", err)
	}
	if decoded.SampleRate != SampleRate24kHz || len(decoded.Samples) != 4 || decoded.Samples[3] != -4 {
		t.Fatalf("unexpected decoded frame: %+v", decoded)
	}
}
