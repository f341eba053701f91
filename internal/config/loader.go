package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"whisper", "whisper-native", "elevenlabs"},
	"tts":   {"piper", "elevenlabs", "openai"},
	"llm":   {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vad":   {"energy"},
	"audio": {"malgo"},
}

// Load reads the YAML configuration file at path, applies TALKTOME_*
// environment overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from TALKTOME_* environment variables.
// Environment values win over file values so a controlling agent can adjust
// behaviour without editing the config file:
//
//	TALKTOME_TRANSCRIPT_TIMEOUT_MS      call.transcript_timeout_ms
//	TALKTOME_STT_SILENCE_DURATION_MS    call.silence_duration_ms
//	TALKTOME_STT_PROVIDER               providers.stt.name
//	TALKTOME_TTS_PROVIDER               providers.tts.name
//	TALKTOME_TTS_VOICE                  providers.tts.voice
//	TALKTOME_WHISPER_MODEL              providers.stt.model
//	TALKTOME_PIPER_SPEED                providers.tts.speed
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("TALKTOME_TRANSCRIPT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Call.TranscriptTimeoutMS = ms
		} else {
			slog.Warn("ignoring invalid TALKTOME_TRANSCRIPT_TIMEOUT_MS", "value", v)
		}
	}
	if v := os.Getenv("TALKTOME_STT_SILENCE_DURATION_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Call.SilenceDurationMS = ms
		} else {
			slog.Warn("ignoring invalid TALKTOME_STT_SILENCE_DURATION_MS", "value", v)
		}
	}
	if v := os.Getenv("TALKTOME_STT_PROVIDER"); v != "" {
		cfg.Providers.STT.Name = v
	}
	if v := os.Getenv("TALKTOME_TTS_PROVIDER"); v != "" {
		cfg.Providers.TTS.Name = v
	}
	if v := os.Getenv("TALKTOME_TTS_VOICE"); v != "" {
		cfg.Providers.TTS.Voice = v
	}
	if v := os.Getenv("TALKTOME_WHISPER_MODEL"); v != "" {
		cfg.Providers.STT.Model = v
	}
	if v := os.Getenv("TALKTOME_PIPER_SPEED"); v != "" {
		if speed, err := strconv.ParseFloat(v, 64); err == nil && speed > 0 {
			cfg.Providers.TTS.Speed = speed
		} else {
			slog.Warn("ignoring invalid TALKTOME_PIPER_SPEED", "value", v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Call.TranscriptTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("call.transcript_timeout_ms %d must not be negative", cfg.Call.TranscriptTimeoutMS))
	}
	if cfg.Call.SilenceDurationMS < 0 {
		errs = append(errs, fmt.Errorf("call.silence_duration_ms %d must not be negative", cfg.Call.SilenceDurationMS))
	}
	if cfg.Call.SpeechThreshold < 0 || cfg.Call.SpeechThreshold > 32767 {
		errs = append(errs, fmt.Errorf("call.speech_threshold %d is out of range [0, 32767]", cfg.Call.SpeechThreshold))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS)...)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM)...)
	if n := len(cfg.Providers.VAD.Fallbacks); n > 0 {
		errs = append(errs, fmt.Errorf("providers.vad.fallbacks is not supported"))
	}
	if n := len(cfg.Providers.Audio.Fallbacks); n > 0 {
		errs = append(errs, fmt.Errorf("providers.audio.fallbacks is not supported"))
	}

	if speed := cfg.Providers.TTS.Speed; speed != 0 && (speed < 0.5 || speed > 2.0) {
		errs = append(errs, fmt.Errorf("providers.tts.speed %.2f is out of range [0.5, 2.0]", speed))
	}

	if cfg.Summary.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("summary.enabled requires providers.llm to be configured"))
	}
	if cfg.Summary.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("summary.max_tokens %d must not be negative", cfg.Summary.MaxTokens))
	}

	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; calls will not be archived")
	}

	return errors.Join(errs...)
}

// TranscriptTimeoutMS returns the configured wait budget, falling back to
// [DefaultTranscriptTimeoutMS] when unset.
func (c *Config) TranscriptTimeoutMS() int {
	if c.Call.TranscriptTimeoutMS > 0 {
		return c.Call.TranscriptTimeoutMS
	}
	return DefaultTranscriptTimeoutMS
}

// validateFallbacks checks the fallback entries of one provider block.
// Fallbacks require a configured primary, need a name of their own, and may
// not nest further fallbacks.
func validateFallbacks(kind string, entry ProviderEntry) []error {
	if len(entry.Fallbacks) == 0 {
		return nil
	}
	var errs []error
	if entry.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires providers.%s.name to be set", kind, kind))
	}
	for i, fb := range entry.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name must be set", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] must not declare nested fallbacks", kind, i))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
