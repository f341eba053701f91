package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
server:
  log_level: info
  diagnostics_addr: "127.0.0.1:9090"
call:
  transcript_timeout_ms: 60000
  silence_duration_ms: 700
  vocabulary: ["Kubernetes", "Grafana"]
providers:
  stt:
    name: whisper
    base_url: http://localhost:8080
  tts:
    name: piper
    base_url: http://localhost:5000
    voice: en_US-amy-medium
    speed: 1.1
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  vad:
    name: energy
  audio:
    name: malgo
archive:
  postgres_dsn: "postgres://localhost:5432/talktome"
summary:
  enabled: true
  max_tokens: 256
`

// TestLoadFromReader_Full checks that a complete config decodes correctly.
func TestLoadFromReader_Full(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Call.TranscriptTimeoutMS != 60000 {
		t.Errorf("transcript_timeout_ms = %d, want 60000", cfg.Call.TranscriptTimeoutMS)
	}
	if len(cfg.Call.Vocabulary) != 2 || cfg.Call.Vocabulary[0] != "Kubernetes" {
		t.Errorf("unexpected vocabulary: %v", cfg.Call.Vocabulary)
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("stt provider = %q, want whisper", cfg.Providers.STT.Name)
	}
	if cfg.Providers.TTS.Voice != "en_US-amy-medium" {
		t.Errorf("tts voice = %q", cfg.Providers.TTS.Voice)
	}
	if cfg.Providers.TTS.Speed != 1.1 {
		t.Errorf("tts speed = %v, want 1.1", cfg.Providers.TTS.Speed)
	}
	if !cfg.Summary.Enabled {
		t.Error("summary.enabled = false, want true")
	}
}

// TestLoadFromReader_UnknownField checks that typos in keys are rejected.
func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  log_levell: info\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

// TestLoadFromReader_Empty checks that an empty config is valid and gets defaults.
func TestLoadFromReader_Empty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.TranscriptTimeoutMS(); got != DefaultTranscriptTimeoutMS {
		t.Errorf("TranscriptTimeoutMS() = %d, want %d", got, DefaultTranscriptTimeoutMS)
	}
}

// TestLoad_File checks loading from an actual file path.
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talktome.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Archive.PostgresDSN == "" {
		t.Error("expected archive DSN to be set")
	}
}

// TestLoad_MissingFile checks that a missing path returns an error.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// TestValidate_Errors checks that invalid values are reported together.
func TestValidate_Errors(t *testing.T) {
	cfg := &Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Call.TranscriptTimeoutMS = -1
	cfg.Call.SpeechThreshold = 40000
	cfg.Providers.TTS.Speed = 3.0
	cfg.Summary.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "transcript_timeout_ms", "speech_threshold", "tts.speed", "summary.enabled"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// TestApplyEnv checks that TALKTOME_* variables override file values.
func TestApplyEnv(t *testing.T) {
	t.Setenv("TALKTOME_TRANSCRIPT_TIMEOUT_MS", "5000")
	t.Setenv("TALKTOME_STT_SILENCE_DURATION_MS", "450")
	t.Setenv("TALKTOME_STT_PROVIDER", "elevenlabs")
	t.Setenv("TALKTOME_TTS_PROVIDER", "openai")
	t.Setenv("TALKTOME_TTS_VOICE", "nova")
	t.Setenv("TALKTOME_WHISPER_MODEL", "/models/ggml-base.en.bin")
	t.Setenv("TALKTOME_PIPER_SPEED", "1.5")

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Call.TranscriptTimeoutMS != 5000 {
		t.Errorf("transcript_timeout_ms = %d, want 5000", cfg.Call.TranscriptTimeoutMS)
	}
	if cfg.Call.SilenceDurationMS != 450 {
		t.Errorf("silence_duration_ms = %d, want 450", cfg.Call.SilenceDurationMS)
	}
	if cfg.Providers.STT.Name != "elevenlabs" {
		t.Errorf("stt provider = %q, want elevenlabs", cfg.Providers.STT.Name)
	}
	if cfg.Providers.TTS.Name != "openai" {
		t.Errorf("tts provider = %q, want openai", cfg.Providers.TTS.Name)
	}
	if cfg.Providers.TTS.Voice != "nova" {
		t.Errorf("tts voice = %q, want nova", cfg.Providers.TTS.Voice)
	}
	if cfg.Providers.STT.Model != "/models/ggml-base.en.bin" {
		t.Errorf("stt model = %q", cfg.Providers.STT.Model)
	}
	if cfg.Providers.TTS.Speed != 1.5 {
		t.Errorf("tts speed = %v, want 1.5", cfg.Providers.TTS.Speed)
	}
}

// TestApplyEnv_InvalidValues checks that malformed env values are ignored.
func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Setenv("TALKTOME_TRANSCRIPT_TIMEOUT_MS", "soon")
	t.Setenv("TALKTOME_PIPER_SPEED", "-1")

	cfg := &Config{}
	cfg.Call.TranscriptTimeoutMS = 1234
	ApplyEnv(cfg)

	if cfg.Call.TranscriptTimeoutMS != 1234 {
		t.Errorf("transcript_timeout_ms = %d, want file value 1234", cfg.Call.TranscriptTimeoutMS)
	}
	if cfg.Providers.TTS.Speed != 0 {
		t.Errorf("tts speed = %v, want 0", cfg.Providers.TTS.Speed)
	}
}

// TestLoadFromReader_Fallbacks checks that fallback provider entries decode.
func TestLoadFromReader_Fallbacks(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
providers:
  tts:
    name: piper
    base_url: http://localhost:5000
    fallbacks:
      - name: openai
        api_key: sk-test
        voice: nova
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fbs := cfg.Providers.TTS.Fallbacks
	if len(fbs) != 1 {
		t.Fatalf("fallbacks = %d entries, want 1", len(fbs))
	}
	if fbs[0].Name != "openai" || fbs[0].Voice != "nova" {
		t.Errorf("unexpected fallback entry: %+v", fbs[0])
	}
}

// TestValidate_FallbackErrors checks the fallback entry constraints.
func TestValidate_FallbackErrors(t *testing.T) {
	cfg := &Config{}
	cfg.Providers.TTS.Fallbacks = []ProviderEntry{{Name: "openai"}}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "providers.tts.name") {
		t.Fatalf("expected missing-primary error, got %v", err)
	}

	cfg = &Config{}
	cfg.Providers.LLM.Name = "openai"
	cfg.Providers.LLM.Fallbacks = []ProviderEntry{{}}
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "fallbacks[0].name") {
		t.Fatalf("expected unnamed-fallback error, got %v", err)
	}

	cfg = &Config{}
	cfg.Providers.STT.Name = "whisper"
	cfg.Providers.STT.Fallbacks = []ProviderEntry{
		{Name: "elevenlabs", Fallbacks: []ProviderEntry{{Name: "whisper"}}},
	}
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "nested") {
		t.Fatalf("expected nested-fallback error, got %v", err)
	}

	cfg = &Config{}
	cfg.Providers.Audio.Name = "malgo"
	cfg.Providers.Audio.Fallbacks = []ProviderEntry{{Name: "malgo"}}
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "audio.fallbacks") {
		t.Fatalf("expected audio-fallback error, got %v", err)
	}
}

// TestValidate_NegativeSilence checks the silence duration bound separately,
// since ApplyEnv already rejects negatives.
func TestValidate_NegativeSilence(t *testing.T) {
	cfg := &Config{}
	cfg.Call.SilenceDurationMS = -5
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "silence_duration_ms") {
		t.Fatalf("expected silence_duration_ms error, got %v", err)
	}
}
