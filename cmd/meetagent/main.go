// Command meetagent joins a video meeting and takes part in the conversation
// as a voice agent.
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

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/meetagent/internal/app"
	"github.com/MrWong99/meetagent/internal/config"
	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/pkg/audio/device"
	"github.com/MrWong99/meetagent/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/meetagent/pkg/provider/embeddings/openai"
	"github.com/MrWong99/meetagent/pkg/provider/llm"
	"github.com/MrWong99/meetagent/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/meetagent/pkg/provider/llm/openai"
	"github.com/MrWong99/meetagent/pkg/provider/stt"
	"github.com/MrWong99/meetagent/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/meetagent/pkg/provider/stt/openai"
	"github.com/MrWong99/meetagent/pkg/provider/stt/whisper"
	"github.com/MrWong99/meetagent/pkg/provider/tts"
	"github.com/MrWong99/meetagent/pkg/provider/tts/coqui"
	"github.com/MrWong99/meetagent/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/meetagent/pkg/provider/tts/openai"
	"github.com/MrWong99/meetagent/pkg/provider/vad"
	"github.com/MrWong99/meetagent/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultLLMModel is used for the openai chat backend when no model is set.
const defaultLLMModel = "gpt-4o"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	listDevices := flag.Bool("list-devices", false, "print the audio devices and exit")
	check := flag.Bool("check", false, "probe every component once and exit")
	watch := flag.Bool("watch", true, "reload the config file when it changes")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "meetagent: %s: %v\n", *envFile, err)
		return 1
	}

	if err := device.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "meetagent: %v\n", err)
		return 1
	}
	defer func() { _ = device.Terminate() }()

	if *listDevices {
		return printDevices()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "meetagent: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "meetagent: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("meetagent starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "meetagent", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Transcript.EmbeddingDimensions)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithTelemetry(tel.Metrics, tel.Handler),
		app.WithLogLevel(level),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *check {
		failed := 0
		for _, s := range application.Orchestrator().TestComponents(ctx) {
			status := "ok"
			if !s.OK {
				status = "FAIL " + s.Error
				failed++
			}
			fmt.Printf("%-8s %s\n", s.Name, status)
		}
		_ = application.Shutdown(context.Background())
		if failed > 0 {
			return 1
		}
		return 0
	}

	slog.Info("agent ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// oaiOptions maps the shared entry fields onto OpenAI client options. Azure
// deployments are selected with options.azure_endpoint and
// options.api_version.
func oaiOptions(entry config.ProviderEntry) []oallm.Option {
	var opts []oallm.Option
	if entry.BaseURL != "" {
		opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
	}
	if org := config.OptString(entry.Options, "organization"); org != "" {
		opts = append(opts, oallm.WithOrganization(org))
	}
	if ep := config.OptString(entry.Options, "azure_endpoint"); ep != "" {
		opts = append(opts, oallm.WithAzure(ep, config.OptString(entry.Options, "api_version")))
	}
	if t := config.OptString(entry.Options, "timeout"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			opts = append(opts, oallm.WithTimeout(d))
		} else {
			slog.Warn("ignoring invalid provider timeout", "name", entry.Name, "timeout", t)
		}
	}
	return opts
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, embeddingDims int) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = defaultLLMModel
		}
		return oallm.New(entry.APIKey, model, oaiOptions(entry)...)
	})

	// The remaining backends share any-llm's pattern: optional APIKey and
	// optional BaseURL. ollama is a local server and takes no key.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return oastt.New(entry.APIKey, entry.Model, oaiOptions(entry)...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return oatts.New(entry.APIKey, entry.Model, oaiOptions(entry)...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := config.OptString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return oaembed.New(entry.APIKey, entry.Model, embeddingDims, oaiOptions(entry)...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.Engine{}, nil
	})

	for _, kind := range []string{"stt", "llm", "tts", "embeddings", "vad"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func printDevices() int {
	devs, err := device.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "meetagent: %v\n", err)
		return 1
	}
	for _, d := range devs {
		marker := " "
		if d.IsDefaultInput || d.IsDefaultOutput {
			marker = "*"
		}
		fmt.Printf("%s%3d  in:%d out:%d  %6.0f Hz  %s\n", marker, d.Index, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, d.Name)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       meetagent startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", entryLabel(cfg.Providers.STT))
	printRow("LLM", entryLabel(cfg.Providers.LLM))
	printRow("TTS", entryLabel(cfg.Providers.TTS))
	printRow("Embeddings", entryLabel(cfg.Providers.Embeddings))
	printRow("VAD", cfg.VAD.Name)
	printRow("Agent", cfg.Agent.Name)
	printRow("Meeting", cfg.Meeting.Controller)
	transcript := "memory"
	if cfg.Transcript.PostgresDSN != "" {
		transcript = "postgres"
	}
	printRow("Transcript", transcript)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func entryLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	label := e.Name
	if e.Model != "" {
		label += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		label += fmt.Sprintf(" +%d", n)
	}
	return label
}

func printRow(kind, value string) {
	if value == "" {
		value = "-"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
