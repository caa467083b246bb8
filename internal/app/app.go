// Package app wires all fastWorkflow subsystems into a running engine.
//
// The App struct owns the full lifecycle: New loads the workflow and connects
// stores, models, pipeline, runtimes, and the HTTP surface; Run serves until
// the context is cancelled; Shutdown flushes live conversations and tears the
// stack down in reverse order.
//
// For testing, inject doubles via functional options (WithStore, WithCache,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fastworkflow/fastworkflow/internal/agent"
	"github.com/fastworkflow/fastworkflow/internal/auth"
	"github.com/fastworkflow/fastworkflow/internal/catalog"
	"github.com/fastworkflow/fastworkflow/internal/config"
	"github.com/fastworkflow/fastworkflow/internal/convstore"
	convpostgres "github.com/fastworkflow/fastworkflow/internal/convstore/postgres"
	convsqlite "github.com/fastworkflow/fastworkflow/internal/convstore/sqlite"
	"github.com/fastworkflow/fastworkflow/internal/extract"
	"github.com/fastworkflow/fastworkflow/internal/feedback"
	"github.com/fastworkflow/fastworkflow/internal/health"
	"github.com/fastworkflow/fastworkflow/internal/intent"
	"github.com/fastworkflow/fastworkflow/internal/mcpbridge"
	"github.com/fastworkflow/fastworkflow/internal/observe"
	"github.com/fastworkflow/fastworkflow/internal/pipeline"
	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/internal/server"
	"github.com/fastworkflow/fastworkflow/internal/uttcache"
	cachepostgres "github.com/fastworkflow/fastworkflow/internal/uttcache/postgres"
	cachesqlite "github.com/fastworkflow/fastworkflow/internal/uttcache/sqlite"
	"github.com/fastworkflow/fastworkflow/pkg/provider/embeddings"
	"github.com/fastworkflow/fastworkflow/pkg/provider/llm"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// Providers holds one model per pipeline role. Nil means the role is not
// configured; every subsystem degrades per its own rules. Populated by
// main.go via the config registry.
type Providers struct {
	// IntentSmall is the first-tier intent model.
	IntentSmall llm.Provider

	// IntentLarge is the escalation tier consulted below the confidence
	// threshold.
	IntentLarge llm.Provider

	// Extraction fills parameter records from command text.
	Extraction llm.Provider

	// Summary generates conversation topics and summaries at rotation.
	Summary llm.Provider

	// Agent plans agentic invocations.
	Agent llm.Provider

	// Embeddings backs the utterance cache.
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes for one engine instance.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Subsystems, initialised in New, torn down in Shutdown.
	def        *workflow.Definition
	registry   *workflow.HandlerRegistry
	store      convstore.Store
	cache      uttcache.Cache
	guard      *uttcache.Guard
	classifier *intent.Classifier
	engine     *pipeline.Engine
	metrics    *observe.Metrics
	manager    *runtime.Manager
	authority  *auth.Authority
	srv        *server.Server
	httpSrv    *http.Server

	// ready gates /probes/readyz. Set after init completes, cleared at
	// shutdown.
	ready atomic.Bool

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a conversation store instead of opening one from config.
func WithStore(s convstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCache injects an utterance cache instead of opening one from config.
func WithCache(c uttcache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithHandlers injects the application's handler registry. Without it the
// engine runs with built-in commands only and unhandled commands produce
// unsuccessful outputs.
func WithHandlers(r *workflow.HandlerRegistry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects a metrics instance and skips global telemetry provider
// setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the version advertised in telemetry and the MCP handshake.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: workflow load, catalog
// import, store and cache opening, pipeline assembly, and HTTP server
// construction. On error, everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.init(ctx); err != nil {
		for i := len(a.closers) - 1; i >= 0; i-- {
			_ = a.closers[i]()
		}
		return nil, err
	}

	a.ready.Store(true)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Workflow definition ───────────────────────────────────────────
	if err := a.initWorkflow(); err != nil {
		return fmt.Errorf("app: init workflow: %w", err)
	}

	// ── 2. Handler registry + lookup catalog ─────────────────────────────
	if err := a.initHandlers(ctx); err != nil {
		return fmt.Errorf("app: init handlers: %w", err)
	}

	// ── 3. Conversation store ────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}

	// ── 4. Utterance cache ───────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return fmt.Errorf("app: init cache: %w", err)
	}

	// ── 5. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 6. Telemetry ─────────────────────────────────────────────────────
	if err := a.initObservability(ctx); err != nil {
		return fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 7. Session runtimes ──────────────────────────────────────────────
	if err := a.initRuntimes(); err != nil {
		return fmt.Errorf("app: init runtimes: %w", err)
	}

	// ── 8. Token authority ───────────────────────────────────────────────
	if err := a.initAuth(); err != nil {
		return fmt.Errorf("app: init auth: %w", err)
	}

	// ── 9. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}

	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initWorkflow loads and validates the workflow folder.
func (a *App) initWorkflow() error {
	def, err := workflow.NewLoader().Load(a.cfg.Workflow.Path)
	if err != nil {
		return err
	}
	a.def = def
	slog.Info("workflow loaded",
		"path", a.cfg.Workflow.Path,
		"commands", len(def.QualifiedNames()),
	)
	return nil
}

// initHandlers sets up the handler registry and, when a catalog file is
// configured, imports it and backs db_lookup fields with it.
func (a *App) initHandlers(ctx context.Context) error {
	if a.registry == nil {
		a.registry = workflow.NewHandlerRegistry()
	}

	path := a.cfg.Workflow.CatalogFile
	if path == "" {
		return nil
	}

	cf, err := catalog.LoadCatalogFile(path)
	if err != nil {
		return fmt.Errorf("load catalog %q: %w", path, err)
	}
	store := catalog.NewMemStore()
	n, err := catalog.ImportCatalog(ctx, store, cf)
	if err != nil {
		return fmt.Errorf("import catalog %q: %w", path, err)
	}
	a.registerCatalogLookups(catalog.NewResolver(store))
	slog.Info("imported lookup catalog", "path", path, "values", n)
	return nil
}

// registerCatalogLookups gives every command that declares db_lookup fields a
// catalog-backed lookup hook. Hooks the application registered itself win.
func (a *App) registerCatalogLookups(res *catalog.Resolver) {
	lookup := func(ctx context.Context, field, value string) (bool, string, []string, error) {
		r, err := res.Resolve(ctx, field, value)
		if err != nil {
			return false, "", nil, err
		}
		return r.Found, r.Canonical, r.Suggestions, nil
	}

	for _, name := range a.def.QualifiedNames() {
		desc, ok := a.def.Command(name)
		if !ok || desc.Builtin {
			continue
		}
		needsLookup := false
		for _, f := range desc.Parameters {
			if f.DBLookup {
				needsLookup = true
				break
			}
		}
		if !needsLookup {
			continue
		}
		if _, registered := a.registry.Extraction(name); registered {
			continue
		}
		a.registry.RegisterExtraction(name, workflow.ExtractionHooks{DBLookup: lookup})
	}
}

// initStore opens the configured conversation store or uses an injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		st, err := convpostgres.New(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = st
	default:
		st, err := convsqlite.New(a.cfg.Store.Root)
		if err != nil {
			return err
		}
		a.store = st
	}

	a.closers = append(a.closers, a.store.Close)
	slog.Info("conversation store ready", "backend", string(a.cfg.Store.Backend))
	return nil
}

// initCache opens the utterance cache when an embeddings provider is
// configured. Without embeddings the cache rung of the resolution ladder is
// skipped entirely.
func (a *App) initCache(ctx context.Context) error {
	if a.cache == nil {
		if a.providers.Embeddings == nil {
			slog.Info("no embeddings provider, utterance cache disabled")
			return nil
		}
		switch a.cfg.Store.Backend {
		case config.StorePostgres:
			c, err := cachepostgres.New(ctx, a.cfg.Store.PostgresDSN, a.def.Root, a.cfg.Store.EmbeddingDimensions)
			if err != nil {
				return err
			}
			a.cache = c
		default:
			c, err := cachesqlite.Open(a.def.Root)
			if err != nil {
				return err
			}
			a.cache = c
		}
		a.closers = append(a.closers, a.cache.Close)
	}

	a.guard = uttcache.NewGuard(a.cache)
	return nil
}

// initPipeline assembles the resolution ladder, extraction, and the engine.
func (a *App) initPipeline() error {
	var predictor intent.Predictor
	if a.providers.IntentSmall != nil {
		predictor = intent.NewTieredPredictor(intent.TieredConfig{
			Small:               a.providers.IntentSmall,
			Large:               a.providers.IntentLarge,
			ConfidenceThreshold: a.cfg.Pipeline.ConfidenceThreshold,
			Votes:               a.cfg.Pipeline.VoteCount,
		})
	}

	a.classifier = intent.NewClassifier(intent.Config{
		Definition:      a.def,
		Embedder:        a.providers.Embeddings,
		Cache:           a.guard,
		Predictor:       predictor,
		CacheSimilarity: a.cfg.Pipeline.CacheSimilarity,
		FuzzyAccept:     a.cfg.Pipeline.FuzzyAccept,
		AmbiguityMargin: a.cfg.Pipeline.AmbiguityMargin,
	})

	var extractor extract.Extractor
	if a.providers.Extraction != nil {
		extractor = extract.NewLLMExtractor(a.providers.Extraction)
	}

	eng, err := pipeline.New(pipeline.Config{
		Definition: a.def,
		Registry:   a.registry,
		Classifier: a.classifier,
		Extractor:  extractor,
		Validator:  extract.NewValidator(a.registry),
	})
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

// initObservability registers the global telemetry providers and creates the
// instrument set. Skipped when metrics were injected.
func (a *App) initObservability(ctx context.Context) error {
	if a.metrics != nil {
		return nil // injected
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fastworkflow",
		ServiceVersion: a.version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		return shutdown(context.Background())
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initRuntimes builds the per-user runtime manager with the optional
// summarizer and agent attached.
func (a *App) initRuntimes() error {
	var summarizer convstore.TopicSummarizer
	if a.providers.Summary != nil {
		summarizer = convstore.NewLLMTopicSummarizer(a.providers.Summary)
	}

	var agentRunner runtime.AgentRunner
	if a.providers.Agent != nil {
		ag, err := agent.New(agent.Config{
			Provider:      a.providers.Agent,
			Engine:        a.engine,
			MaxIterations: a.cfg.Agent.MaxIterations,
			SystemPrompt:  a.cfg.Agent.SystemPrompt,
		})
		if err != nil {
			return err
		}
		agentRunner = ag
	}

	mgr, err := runtime.NewManager(runtime.Config{
		Definition:     a.def,
		Registry:       a.registry,
		Engine:         a.engine,
		Store:          a.store,
		Summarizer:     summarizer,
		Agent:          agentRunner,
		Metrics:        a.metrics,
		QueueCapacity:  a.cfg.Pipeline.QueueCapacity,
		StartupContext: a.cfg.Workflow.StartupContext,
	})
	if err != nil {
		return err
	}
	a.manager = mgr
	return nil
}

// initAuth builds the token authority from the configured mode.
func (a *App) initAuth() error {
	authority, err := auth.New(auth.Config{
		Unsigned:       a.cfg.Auth.Mode == config.AuthUnsigned,
		PrivateKeyFile: a.cfg.Auth.PrivateKeyFile,
		PublicKeyFile:  a.cfg.Auth.PublicKeyFile,
		Issuer:         a.cfg.Auth.Issuer,
		Audience:       a.cfg.Auth.Audience,
		AccessTTL:      time.Duration(a.cfg.Auth.AccessTTL),
		RefreshTTL:     time.Duration(a.cfg.Auth.RefreshTTL),
		MCPTTL:         time.Duration(a.cfg.Auth.MCPTokenTTL),
	})
	if err != nil {
		return err
	}
	a.authority = authority
	return nil
}

// initServer assembles probes, the feedback audit log, the MCP mount, and the
// HTTP server.
func (a *App) initServer() error {
	probes := health.New(a.ready.Load, a.cfg.Workflow.Path)

	var feedbackLog server.FeedbackLog
	if path := a.cfg.Store.FeedbackFile; path != "" {
		feedbackLog = feedback.NewLog(path)
		slog.Info("feedback audit log enabled", "path", path)
	}

	var mcpHandler http.Handler
	if a.cfg.Server.MCPPath != "" {
		bridge, err := mcpbridge.New(mcpbridge.Config{
			Manager:        a.manager,
			Version:        a.version,
			DefaultTimeout: time.Duration(a.cfg.Pipeline.InvocationTimeout),
		})
		if err != nil {
			return err
		}
		mcpHandler = bridge.Handler()
		slog.Info("mcp tools mounted", "path", a.cfg.Server.MCPPath)
	}

	srv, err := server.New(server.Config{
		Manager:        a.manager,
		Store:          a.store,
		Authority:      a.authority,
		Probes:         probes,
		Metrics:        a.metrics,
		Feedback:       feedbackLog,
		MCPHandler:     mcpHandler,
		MCPPath:        a.cfg.Server.MCPPath,
		AdminUsers:     a.cfg.Auth.AdminUsers,
		DefaultTimeout: time.Duration(a.cfg.Pipeline.InvocationTimeout),
	})
	if err != nil {
		return err
	}
	a.srv = srv

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streaming responses hold the connection open for the life of an
		// invocation; the invocation deadline bounds them instead.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it returns ctx.Err(); call Shutdown to tear the stack down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			err = a.httpSrv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("engine running",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"workflow", a.cfg.Workflow.Path,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler exposes the HTTP surface without a listener, for tests and
// embedders that mount the engine into their own server.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Manager exposes the runtime manager for embedders that drive sessions
// directly instead of over HTTP.
func (a *App) Manager() *runtime.Manager {
	return a.manager
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, flushes every live runtime's conversation
// state, and then runs closers in reverse-init order. It respects the context
// deadline: when ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.ready.Store(false)
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first so no new turns start mid-flush.
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown", "err", err)
			}
		}

		// Flush conversation state while the stores are still open.
		if a.manager != nil {
			if err := a.manager.Shutdown(ctx); err != nil {
				slog.Warn("runtime flush", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
