package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-native"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Auth
	if cfg.Auth.Mode != "" && !cfg.Auth.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("auth.mode %q is invalid; valid values: signed, unsigned", cfg.Auth.Mode))
	}
	if cfg.Auth.Mode == AuthSigned {
		if cfg.Auth.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.private_key_file is required when auth.mode is signed"))
		}
		if cfg.Auth.PublicKeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.public_key_file is required when auth.mode is signed"))
		}
	}
	if cfg.Auth.Mode == AuthUnsigned {
		slog.Warn("auth.mode is unsigned; token signatures will not be verified, use only on trusted networks")
	}
	if cfg.Auth.AccessTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.access_ttl %v must not be negative", cfg.Auth.AccessTTL))
	}
	if cfg.Auth.RefreshTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.refresh_ttl %v must not be negative", cfg.Auth.RefreshTTL))
	}
	if cfg.Auth.MCPTokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.mcp_token_ttl %v must not be negative", cfg.Auth.MCPTokenTTL))
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: sqlite, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("store.postgres_dsn is required when store.backend is postgres"))
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.Root == "" {
		errs = append(errs, fmt.Errorf("store.root is required when store.backend is sqlite"))
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must be positive", cfg.Store.EmbeddingDimensions))
	}

	// Workflow
	if cfg.Workflow.Path == "" {
		errs = append(errs, fmt.Errorf("workflow.path is required"))
	}

	// Provider name validation; warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.IntentSmall.Name)
	validateProviderName("llm", cfg.Providers.IntentLarge.Name)
	validateProviderName("llm", cfg.Providers.Extraction.Name)
	validateProviderName("llm", cfg.Providers.Summary.Name)
	validateProviderName("llm", cfg.Providers.Agent.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability warnings
	if cfg.Providers.IntentSmall.Name == "" && cfg.Providers.IntentLarge.Name == "" {
		slog.Warn("no intent classifier model configured; resolution will rely on exact, cached, and fuzzy matching only")
	}
	if cfg.Providers.Extraction.Name == "" {
		slog.Warn("providers.extraction is not configured; parameter extraction will use deterministic carry-over only")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; the utterance cache will be disabled")
	}

	// Pipeline ranges
	if cfg.Pipeline.CacheSimilarity < 0 || cfg.Pipeline.CacheSimilarity > 1 {
		errs = append(errs, fmt.Errorf("pipeline.cache_similarity %.2f is out of range [0, 1]", cfg.Pipeline.CacheSimilarity))
	}
	if cfg.Pipeline.FuzzyAccept < 0 || cfg.Pipeline.FuzzyAccept > 1 {
		errs = append(errs, fmt.Errorf("pipeline.fuzzy_accept %.2f is out of range [0, 1]", cfg.Pipeline.FuzzyAccept))
	}
	if cfg.Pipeline.ConfidenceThreshold < 0 || cfg.Pipeline.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.confidence_threshold %.2f is out of range [0, 1]", cfg.Pipeline.ConfidenceThreshold))
	}
	if cfg.Pipeline.AmbiguityMargin < 0 || cfg.Pipeline.AmbiguityMargin >= 1 {
		errs = append(errs, fmt.Errorf("pipeline.ambiguity_margin %.2f is out of range [0, 1)", cfg.Pipeline.AmbiguityMargin))
	}
	if cfg.Pipeline.VoteCount < 0 {
		errs = append(errs, fmt.Errorf("pipeline.vote_count %d must not be negative", cfg.Pipeline.VoteCount))
	}
	if cfg.Pipeline.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_capacity %d must not be negative", cfg.Pipeline.QueueCapacity))
	}
	if cfg.Pipeline.InvocationTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.invocation_timeout %v must not be negative", cfg.Pipeline.InvocationTimeout))
	}

	// Agent
	if cfg.Agent.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations %d must not be negative", cfg.Agent.MaxIterations))
	}
	if cfg.Providers.Agent.Name == "" {
		slog.Warn("providers.agent is not configured; agentic invocations will be rejected")
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
