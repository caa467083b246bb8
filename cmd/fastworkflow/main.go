// Command fastworkflow serves a workflow folder as an intent resolution and
// dispatch engine over HTTP.
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

	"github.com/fastworkflow/fastworkflow/internal/app"
	"github.com/fastworkflow/fastworkflow/internal/config"
	"github.com/fastworkflow/fastworkflow/internal/resilience"
	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
	ollamaembed "github.com/fastworkflow/fastworkflow/pkg/provider/embeddings/ollama"
	oaembed "github.com/fastworkflow/fastworkflow/pkg/provider/embeddings/openai"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm/anyllm"
	oallm "github.com/fastworkflow/fastworkflow/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// logLevel is shared with the config watcher so verbosity follows config
// reloads without a restart.
var logLevel slog.LevelVar

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fastworkflow: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fastworkflow: %v\n", err)
		}
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("fastworkflow starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, applyConfigChange)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyConfigChange reacts to a config file reload. The log level applies
// immediately; resolution tunables take effect on restart because the engine
// is built once at startup.
func applyConfigChange(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PipelineChanged {
		slog.Warn("pipeline tunables changed in config, restart to apply them")
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with fastWorkflow. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-native"},
	"embeddings": {"openai", "ollama"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp and
	// llamafile all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
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

	// openai-native talks to the chat completions API directly, for
	// deployments that cannot carry the any-llm bridge.
	reg.RegisterLLM("openai-native", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the provider for every model role named in cfg
// and returns them in an [app.Providers] struct for the application to
// consume. Roles without a configured provider stay nil and the app degrades
// the stages that would have used them.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	roles := []struct {
		kind  string
		entry config.ProviderEntry
		dst   *llm.Provider
	}{
		{"intent_small", cfg.Providers.IntentSmall, &ps.IntentSmall},
		{"intent_large", cfg.Providers.IntentLarge, &ps.IntentLarge},
		{"extraction", cfg.Providers.Extraction, &ps.Extraction},
		{"summary", cfg.Providers.Summary, &ps.Summary},
		{"agent", cfg.Providers.Agent, &ps.Agent},
	}
	for _, role := range roles {
		p, err := buildLLM(reg, role.kind, role.entry)
		if err != nil {
			return nil, err
		}
		*role.dst = p
	}

	p, err := buildEmbeddings(reg, "embeddings", cfg.Providers.Embeddings)
	if err != nil {
		return nil, err
	}
	ps.Embeddings = p

	return ps, nil
}

// buildLLM instantiates the LLM for one model role. Entries that list
// fallbacks are wrapped in a failover group; each backend then sits behind
// its own circuit breaker.
func buildLLM(reg *config.Registry, kind string, entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateLLM(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	if len(entry.Fallbacks) == 0 {
		return p, nil
	}

	group := resilience.NewLLM(kind+"/"+entry.Name, p, resilience.GroupConfig{})
	for _, fb := range entry.Fallbacks {
		fp, err := reg.CreateLLM(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "kind", kind, "name", fb.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
		}
		group.Add(kind+"/"+fb.Name, fp)
		slog.Info("fallback registered", "kind", kind, "name", fb.Name, "model", fb.Model)
	}
	return group, nil
}

// buildEmbeddings mirrors [buildLLM] for the embeddings role.
func buildEmbeddings(reg *config.Registry, kind string, entry config.ProviderEntry) (embeddings.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateEmbeddings(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	if len(entry.Fallbacks) == 0 {
		return p, nil
	}

	group := resilience.NewEmbeddings(kind+"/"+entry.Name, p, resilience.GroupConfig{})
	for _, fb := range entry.Fallbacks {
		fp, err := reg.CreateEmbeddings(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "kind", kind, "name", fb.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
		}
		group.Add(kind+"/"+fb.Name, fp)
		slog.Info("fallback registered", "kind", kind, "name", fb.Name, "model", fb.Model)
	}
	return group, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     fastWorkflow startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Workflow", cfg.Workflow.Path)
	if cfg.Workflow.StartupContext != "" {
		printRow("Start context", cfg.Workflow.StartupContext)
	}
	printProvider("Intent small", cfg.Providers.IntentSmall.Name, cfg.Providers.IntentSmall.Model)
	printProvider("Intent large", cfg.Providers.IntentLarge.Name, cfg.Providers.IntentLarge.Model)
	printProvider("Extraction", cfg.Providers.Extraction.Name, cfg.Providers.Extraction.Model)
	printProvider("Summary", cfg.Providers.Summary.Name, cfg.Providers.Summary.Model)
	printProvider("Agent", cfg.Providers.Agent.Name, cfg.Providers.Agent.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printRow("Store", string(cfg.Store.Backend))
	printRow("Auth", string(cfg.Auth.Mode))
	if cfg.Server.MCPPath != "" {
		printRow("MCP mount", cfg.Server.MCPPath)
	} else {
		printRow("MCP mount", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The handler reads verbosity through
// the shared logLevel var so config reloads can adjust it without a restart.
func newLogger(level config.LogLevel) *slog.Logger {
	logLevel.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML decodes
// numeric scalars as int; values of any other type yield zero.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
