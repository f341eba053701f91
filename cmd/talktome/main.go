// Command talktome is an MCP stdio server that lets a controlling agent hold
// a spoken phone-style conversation with the person at the machine.
//
// All logs go to stderr; stdout is reserved for the MCP protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talktome/internal/archive"
	"github.com/MrWong99/talktome/internal/call"
	"github.com/MrWong99/talktome/internal/config"
	"github.com/MrWong99/talktome/internal/health"
	"github.com/MrWong99/talktome/internal/observe"
	"github.com/MrWong99/talktome/internal/resilience"
	"github.com/MrWong99/talktome/internal/server"
	"github.com/MrWong99/talktome/internal/summary"
	"github.com/MrWong99/talktome/internal/transcript"
	"github.com/MrWong99/talktome/pkg/audio"
	malgodevice "github.com/MrWong99/talktome/pkg/audio/malgo"
	"github.com/MrWong99/talktome/pkg/provider/llm"
	"github.com/MrWong99/talktome/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/talktome/pkg/provider/llm/openai"
	"github.com/MrWong99/talktome/pkg/provider/stt"
	sttelevenlabs "github.com/MrWong99/talktome/pkg/provider/stt/elevenlabs"
	"github.com/MrWong99/talktome/pkg/provider/stt/whisper"
	"github.com/MrWong99/talktome/pkg/provider/tts"
	ttselevenlabs "github.com/MrWong99/talktome/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/talktome/pkg/provider/tts/openai"
	"github.com/MrWong99/talktome/pkg/provider/tts/piper"
	"github.com/MrWong99/talktome/pkg/provider/vad"
	"github.com/MrWong99/talktome/pkg/provider/vad/energy"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talktome: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talktome: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("talktome starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Archive (optional) ────────────────────────────────────────────────────
	var store *archive.Store
	if cfg.Archive.PostgresDSN != "" {
		store, err = archive.New(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to call archive", "err", err)
			return 1
		}
		defer store.Close()
		slog.Info("call archive connected")
	}

	// ── Summariser (optional) ─────────────────────────────────────────────────
	var summariser *summary.Summariser
	if cfg.Summary.Enabled {
		if providers.LLM == nil {
			slog.Error("summary.enabled requires a working llm provider")
			return 1
		}
		var opts []summary.Option
		if cfg.Summary.SystemPrompt != "" {
			opts = append(opts, summary.WithSystemPrompt(cfg.Summary.SystemPrompt))
		}
		if cfg.Summary.MaxTokens > 0 {
			opts = append(opts, summary.WithMaxTokens(cfg.Summary.MaxTokens))
		}
		summariser, err = summary.New(providers.LLM, opts...)
		if err != nil {
			slog.Error("failed to create summariser", "err", err)
			return 1
		}
	}

	// ── Call manager ──────────────────────────────────────────────────────────
	voice := tts.Voice{ID: cfg.Providers.TTS.Voice, Speed: cfg.Providers.TTS.Speed}

	mgrCfg := call.ManagerConfig{
		Device:          providers.Audio,
		STT:             providers.STT,
		TTS:             providers.TTS,
		Voice:           voice,
		WaitTimeout:     time.Duration(cfg.TranscriptTimeoutMS()) * time.Millisecond,
		SilenceDuration: time.Duration(cfg.Call.SilenceDurationMS) * time.Millisecond,
		Vocabulary:      cfg.Call.Vocabulary,
		Metrics:         observe.NewRecorder(metrics),
	}
	if len(cfg.Call.Vocabulary) > 0 {
		mgrCfg.Corrector = transcript.New(cfg.Call.Vocabulary)
	}
	if store != nil {
		mgrCfg.Archive = store
	}
	if summariser != nil {
		mgrCfg.Summariser = summariser
	}

	mgr, err := call.NewManager(mgrCfg)
	if err != nil {
		slog.Error("failed to create call manager", "err", err)
		return 1
	}

	// ── MCP server ────────────────────────────────────────────────────────────
	tester := &health.SelfTest{
		Device: providers.Audio,
		TTS:    providers.TTS,
		Voice:  voice,
	}
	srv, err := server.New(server.Config{
		Manager: mgr,
		Tester:  tester,
		Version: version,
	})
	if err != nil {
		slog.Error("failed to create mcp server", "err", err)
		return 1
	}

	// ── Diagnostics listener (optional) ───────────────────────────────────────
	if addr := cfg.Server.DiagnosticsAddr; addr != "" {
		callActive := func() bool {
			_, active := mgr.Info()
			return active
		}
		checkers := []health.Checker{
			health.DeviceChecker(providers.Audio, callActive),
		}
		if store != nil {
			checkers = append(checkers, health.Checker{Name: "archive", Check: store.Ping})
		}
		diag := health.NewDiagnostics(addr, health.New(checkers...), metrics)
		go func() {
			if err := diag.Run(ctx); err != nil {
				slog.Error("diagnostics listener error", "err", err)
			}
		}()
		slog.Info("diagnostics listening", "addr", addr)
	}

	printStartupSummary(cfg)

	err = srv.Run(ctx)

	// Tear down any call still in progress so devices are released and the
	// transcript is archived. End is idempotent.
	endCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, endErr := mgr.End(endCtx); endErr != nil {
		var noCall *call.NoActiveCallError
		if !errors.As(endErr, &noCall) {
			slog.Warn("error ending call during shutdown", "err", endErr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var engine vad.Engine = energy.New()
		if cfg.Call.SpeechThreshold > 0 {
			engine = thresholdEngine{Engine: engine, threshold: float64(cfg.Call.SpeechThreshold)}
		}
		return engine, nil
	})

	// The STT factories share one VAD engine. When providers.vad is not
	// configured, each STT provider falls back to its own default.
	var vadEngine vad.Engine
	if name := cfg.Providers.VAD.Name; name != "" {
		engine, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			slog.Warn("failed to create vad engine — stt providers use their defaults", "name", name, "err", err)
		} else {
			vadEngine = engine
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if vadEngine != nil {
			opts = append(opts, whisper.WithVAD(vadEngine))
		}
		if ms := optInt(entry.Options, "silence_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceDuration(time.Duration(ms)*time.Millisecond))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if vadEngine != nil {
			opts = append(opts, whisper.WithNativeVAD(vadEngine))
		}
		if ms := optInt(entry.Options, "silence_ms"); ms > 0 {
			opts = append(opts, whisper.WithNativeSilenceDuration(time.Duration(ms)*time.Millisecond))
		}
		if ms := optInt(entry.Options, "max_buffer_ms"); ms > 0 {
			opts = append(opts, whisper.WithNativeMaxBufferDuration(time.Duration(ms)*time.Millisecond))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("elevenlabs", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttelevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, sttelevenlabs.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttelevenlabs.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttelevenlabs.WithEndpoint(entry.BaseURL))
		}
		if ms := optInt(entry.Options, "flush_timeout_ms"); ms > 0 {
			opts = append(opts, sttelevenlabs.WithFlushTimeout(time.Duration(ms)*time.Millisecond))
		}
		return sttelevenlabs.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if entry.Speed != 0 {
			opts = append(opts, piper.WithSpeed(entry.Speed))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, piper.WithOutputSampleRate(rate))
		}
		return piper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttselevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, ttselevenlabs.WithVoiceID(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttselevenlabs.WithBaseURL(entry.BaseURL))
		}
		return ttselevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, oaitts.WithVoice(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai uses the official SDK directly.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining cloud backends share the any-llm pattern: optional APIKey
	// plus optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("malgo", func(entry config.ProviderEntry) (audio.Device, error) {
		return malgodevice.New(malgodevice.WithLogger(slog.Default()))
	})
}

// providerSet holds the instantiated providers a call needs.
type providerSet struct {
	Audio audio.Device
	STT   stt.Provider
	TTS   tts.Provider
	LLM   llm.Provider
}

// buildProviders instantiates the providers named in cfg, wrapping STT, TTS
// and LLM in failover groups when fallbacks are configured. Audio, STT and
// TTS are required; LLM is optional.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	audioEntry := cfg.Providers.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = "malgo"
	}
	device, err := reg.CreateAudio(audioEntry)
	if err != nil {
		return nil, fmt.Errorf("create audio device %q: %w", audioEntry.Name, err)
	}
	ps.Audio = device
	slog.Info("provider created", "kind", "audio", "name", audioEntry.Name)

	sttEntry := cfg.Providers.STT
	if sttEntry.Name == "" {
		return nil, fmt.Errorf("providers.stt.name must be configured")
	}
	sttPrimary, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	ps.STT = sttPrimary
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name)
	if len(sttEntry.Fallbacks) > 0 {
		group := resilience.NewSTTFailover(sttEntry.Name, sttPrimary, resilience.BreakerConfig{})
		for _, fb := range sttEntry.Fallbacks {
			p, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, p)
			slog.Info("provider created", "kind", "stt", "name", fb.Name, "role", "fallback")
		}
		ps.STT = group
	}

	ttsEntry := cfg.Providers.TTS
	if ttsEntry.Name == "" {
		return nil, fmt.Errorf("providers.tts.name must be configured")
	}
	ttsPrimary, err := reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	ps.TTS = ttsPrimary
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name)
	if len(ttsEntry.Fallbacks) > 0 {
		group := resilience.NewTTSFailover(ttsEntry.Name, ttsPrimary, resilience.BreakerConfig{})
		for _, fb := range ttsEntry.Fallbacks {
			p, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
			}
			if err := group.AddFallback(fb.Name, p); err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "tts", "name", fb.Name, "role", "fallback")
		}
		ps.TTS = group
	}

	if llmEntry := cfg.Providers.LLM; llmEntry.Name != "" {
		llmPrimary, err := reg.CreateLLM(llmEntry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
		}
		ps.LLM = llmPrimary
		slog.Info("provider created", "kind", "llm", "name", llmEntry.Name)
		if len(llmEntry.Fallbacks) > 0 {
			group := resilience.NewLLMFailover(llmEntry.Name, llmPrimary, resilience.BreakerConfig{})
			for _, fb := range llmEntry.Fallbacks {
				p, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, p)
				slog.Info("provider created", "kind", "llm", "name", fb.Name, "role", "fallback")
			}
			ps.LLM = group
		}
	}

	return ps, nil
}

// thresholdEngine overrides the speech threshold of sessions opened on the
// wrapped engine when the caller did not set one.
type thresholdEngine struct {
	vad.Engine
	threshold float64
}

func (e thresholdEngine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = e.threshold
	}
	return e.Engine.NewSession(cfg)
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes a configuration overview to stderr. Stdout is
// the MCP transport and must stay clean.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         talktome — startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "VAD", cfg.Providers.VAD.Name, "")
	printProvider(w, "Audio", cfg.Providers.Audio.Name, "")
	if cfg.Archive.PostgresDSN != "" {
		fmt.Fprintf(w, "║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Fprintf(w, "║  Archive         : %-19s ║\n", "(disabled)")
	}
	if cfg.Summary.Enabled {
		fmt.Fprintf(w, "║  Summary         : %-19s ║\n", "enabled")
	} else {
		fmt.Fprintf(w, "║  Summary         : %-19s ║\n", "(disabled)")
	}
	fmt.Fprintf(w, "║  Vocabulary      : %-19d ║\n", len(cfg.Call.Vocabulary))
	if cfg.Server.DiagnosticsAddr != "" {
		fmt.Fprintf(w, "║  Diagnostics     : %-19s ║\n", cfg.Server.DiagnosticsAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w *os.File, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// bare numbers as int, but quoted or float values also appear in the wild.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
