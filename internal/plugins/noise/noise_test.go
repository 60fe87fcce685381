package noise

import (
	"math"
	"testing"

	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

func tone(amplitude float64) audio.Frame {
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	return audio.Frame{Samples: samples, SampleRate: audio.SampleRate48kHz, Channels: 1}
}

func TestGateAttenuatesSteadyNoise(t *testing.T) {
	g := NewBVC()
	noise := tone(300)

	var out audio.Frame
	for i := 0; i < 100; i++ {
		out = g.Process(noise)
	}
	if out.RMS() > noise.RMS()*0.2 {
		t.Fatalf("expected noise to be attenuated: in=%.5f out=%.5f", noise.RMS(), out.RMS())
	}
}

func TestGatePassesSpeechOverNoise(t *testing.T) {
	g := NewBVC()
	for i := 0; i < 100; i++ {
		g.Process(tone(300))
	}

	speech := tone(8000)
	var out audio.Frame
	for i := 0; i < 5; i++ {
		out = g.Process(speech)
	}
	if out.RMS() < speech.RMS()*0.9 {
		t.Fatalf("expected speech to pass: in=%.5f out=%.5f", speech.RMS(), out.RMS())
	}
}

func TestGateDoesNotModifyInput(t *testing.T) {
	g := NewBVC()
	in := tone(300)
	before := in.Samples[10]
	for i := 0; i < 20; i++ {
		g.Process(in)
	}
	if in.Samples[10] != before {
		t.Fatal("input frame was modified")
	}
	if got := g.Process(audio.Frame{}); !got.Empty() {
		t.Fatal("expected empty frame to pass through")
	}
	if g.Label() != "bvc" {
		t.Fatalf("unexpected label: %s", g.Label())
	}
}
