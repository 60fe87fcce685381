package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromMapDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Worker.HTTPAddr != ":8081" || cfg.Worker.MaxJobs != 4 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Script.Rounds != 3 || cfg.Script.Pace != PacePlayout {
		t.Fatalf("unexpected script defaults: %+v", cfg.Script)
	}
	if cfg.Script.FixedDelay != 5*time.Second {
		t.Fatalf("expected 5s fixed delay, got %v", cfg.Script.FixedDelay)
	}
	if cfg.Providers.Sampling.Temperature != nil {
		t.Fatalf("temperature should be unset")
	}
}

func TestFromMapParsesValues(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"PORT":                 "127.0.0.1:9000",
		"LIVEKIT_URL":          "wss://demo.livekit.cloud",
		"PODCAST_ROUNDS":       "5",
		"PODCAST_PACE":         "FIXED",
		"PODCAST_FIXED_DELAY":  "2500",
		"PODCAST_TURN_GAP":     "1s",
		"LLM_TEMPERATURE":      "0.4",
		"GEMINI_API_KEY":       "gm",
		"ELEVENLABS_API_KEY":   "el",
		"CORS_ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Server.PublicLiveKitURL != "wss://demo.livekit.cloud" {
		t.Fatalf("public url should fall back to LIVEKIT_URL, got %q", cfg.Server.PublicLiveKitURL)
	}
	if cfg.Script.Rounds != 5 || cfg.Script.Pace != PaceFixed {
		t.Fatalf("unexpected script config: %+v", cfg.Script)
	}
	if cfg.Script.FixedDelay != 2500*time.Millisecond || cfg.Script.TurnGap != time.Second {
		t.Fatalf("unexpected durations: %+v", cfg.Script)
	}
	if cfg.Providers.Sampling.Temperature == nil || *cfg.Providers.Sampling.Temperature != 0.4 {
		t.Fatalf("unexpected temperature")
	}
	if cfg.Providers.GeminiKey != "gm" || cfg.Providers.ElevenLabsKey != "el" {
		t.Fatalf("fallback keys not applied: %+v", cfg.Providers)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestFromMapRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"port":   {"PORT": "80 80"},
		"rounds": {"PODCAST_ROUNDS": "0"},
		"pace":   {"PODCAST_PACE": "sometimes"},
		"float":  {"LLM_TOP_P": "high"},
		"bool":   {"SPEECH_CONCURRENT_MODE": "maybe"},
	}
	for name, values := range cases {
		if _, err := FromMap(values); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadLayersFileUnderProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env.local")
	content := "LIVEKIT_API_KEY=from-file\nRIME_API_KEY=rime-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LIVEKIT_API_KEY", "from-process")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LiveKit.APIKey != "from-process" {
		t.Fatalf("process env should win, got %q", cfg.LiveKit.APIKey)
	}
	if cfg.Providers.RimeKey != "rime-file" {
		t.Fatalf("file value missing, got %q", cfg.Providers.RimeKey)
	}
	if _, ok := os.LookupEnv("RIME_API_KEY"); ok {
		t.Fatalf("loading must not mutate the process environment")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestLiveKitValidate(t *testing.T) {
	err := LiveKitConfig{URL: "wss://x", APIKey: "k"}.Validate()
	if !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	if err := (LiveKitConfig{URL: "wss://x", APIKey: "k", APISecret: "s"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
