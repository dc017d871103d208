package flagkit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-riley/flagkit/internal/config"
	"github.com/matt-riley/flagkit/internal/core"
	"github.com/matt-riley/flagkit/internal/metrics"
	"github.com/matt-riley/flagkit/internal/store"
	"github.com/matt-riley/flagkit/internal/tracing"
)

type (
	Config            = config.Config
	Decision          = core.Decision
	Reason            = core.Reason
	EvaluationContext = core.EvaluationContext
	ContextOption     = core.ContextOption
	Definition        = core.Definition
	DefinitionOption  = core.DefinitionOption
	Variant           = core.Variant
	Targeting         = core.Targeting
	TargetingOption   = core.TargetingOption
	Store             = core.Store
	MemoryStore       = store.MemoryStore
	Metrics           = metrics.Metrics
)

const (
	ReasonFlagNotFound = core.ReasonFlagNotFound
	ReasonFlagDisabled = core.ReasonFlagDisabled
	ReasonTargetDeny   = core.ReasonTargetDeny
	ReasonTargetAllow  = core.ReasonTargetAllow
	ReasonTargetMiss   = core.ReasonTargetMiss
	ReasonRolloutOut   = core.ReasonRolloutOut
	ReasonRolloutIn    = core.ReasonRolloutIn

	VariantOff = core.VariantOff
)

var (
	LoadConfig        = config.Load
	LoadConfigFromMap = config.LoadFromMap

	NewEvaluationContext = core.NewEvaluationContext
	WithUserID           = core.WithUserID
	WithGroups           = core.WithGroups
	WithAttribute        = core.WithAttribute
	WithAttributes       = core.WithAttributes

	NewDefinition  = core.NewDefinition
	MustDefinition = core.MustDefinition
	Enabled        = core.Enabled
	Rollout        = core.Rollout
	WithTargeting  = core.WithTargeting
	WithVariant    = core.WithVariant
	DefaultVariant = core.DefaultVariant

	NewTargeting     = core.NewTargeting
	AllowUsers       = core.AllowUsers
	DenyUsers        = core.DenyUsers
	AllowGroups      = core.AllowGroups
	DenyGroups       = core.DenyGroups
	RequireAttribute = core.RequireAttribute

	NewMemoryStore = store.NewMemoryStore
	NewMetrics     = metrics.New
)

type clientOptions struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger used by the client and its store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records evaluations and store loads in m.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// Client evaluates flags against one definition store.
type Client struct {
	engine *core.Engine
	store  core.Store

	watch func(context.Context) error
	close func()
}

// New builds a client from cfg. Configuration problems, and for POSTGRES a
// failed connection or initial load, are returned here rather than surfacing
// later as missing flags.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := newClientOptions(opts)

	switch cfg.Store {
	case config.StoreFile:
		fileStore, err := store.NewFileStore(cfg.FilePath, o.storeOptions("file",
			store.WithTTL(cfg.CacheTTL),
			store.WithPreserveOnError(cfg.PreserveOnError),
		)...)
		if err != nil {
			return nil, fmt.Errorf("create file store: %w", err)
		}
		return newClient(fileStore, o)

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		pgStore, err := store.NewPostgresStore(pool, o.storeOptions("postgres",
			store.WithNotifyChannel(cfg.NotifyChannel),
			store.WithResyncInterval(cfg.ResyncInterval),
		)...)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create postgres store: %w", err)
		}
		if err := pgStore.Refresh(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("load flag definitions: %w", err)
		}
		if o.metrics != nil {
			metrics.RegisterPoolMetrics(o.metrics.Registry, pool)
		}

		client, err := newClient(pgStore, o)
		if err != nil {
			pool.Close()
			return nil, err
		}
		client.watch = pgStore.Watch
		client.close = pool.Close
		return client, nil

	default:
		return newClient(store.NewMemoryStore(), o)
	}
}

// NewWithStore builds a client over a caller-supplied store.
func NewWithStore(s Store, opts ...Option) (*Client, error) {
	return newClient(s, newClientOptions(opts))
}

func newClientOptions(opts []Option) clientOptions {
	o := clientOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o clientOptions) storeOptions(name string, extra ...store.Option) []store.Option {
	storeOpts := append([]store.Option{store.WithLogger(o.logger.With("store", name))}, extra...)
	if o.metrics != nil {
		storeOpts = append(storeOpts, store.WithLoadHook(o.metrics.LoadHook(name)))
	}
	return storeOpts
}

func newClient(s core.Store, o clientOptions) (*Client, error) {
	engineOpts := []core.EngineOption{core.WithLogger(o.logger)}
	if o.metrics != nil {
		engineOpts = append(engineOpts, core.WithDecisionHook(o.metrics.DecisionHook()))
	}

	engine, err := core.NewEngine(s, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &Client{engine: engine, store: s}, nil
}

// Evaluate returns the full decision for key.
func (c *Client) Evaluate(key string, evalCtx EvaluationContext) Decision {
	return c.engine.Evaluate(key, evalCtx)
}

// EvaluateContext is Evaluate wrapped in a tracing span.
func (c *Client) EvaluateContext(ctx context.Context, key string, evalCtx EvaluationContext) Decision {
	_, span := tracing.StartEvaluation(ctx, key)
	defer span.End()

	decision := c.engine.Evaluate(key, evalCtx)
	tracing.RecordDecision(span, decision)
	return decision
}

func (c *Client) IsEnabled(key string, evalCtx EvaluationContext) bool {
	return c.engine.IsEnabled(key, evalCtx)
}

// Variant returns the chosen variant when key is on, else fallback (or
// VariantOff when fallback is empty).
func (c *Client) Variant(key string, evalCtx EvaluationContext, fallback string) string {
	return c.engine.Variant(key, evalCtx, fallback)
}

// Store returns the store the client reads from.
func (c *Client) Store() Store { return c.store }

// Memory returns the underlying in-memory store when the client uses one.
func (c *Client) Memory() (*MemoryStore, bool) {
	memory, ok := c.store.(*store.MemoryStore)
	return memory, ok
}

// Run blocks until ctx is done. For POSTGRES it keeps definitions fresh while
// it runs; other stores need no background work.
func (c *Client) Run(ctx context.Context) error {
	if c.watch != nil {
		return c.watch(ctx)
	}
	<-ctx.Done()
	return nil
}

// Close releases resources the client opened, such as a database pool.
func (c *Client) Close() {
	if c.close != nil {
		c.close()
	}
}
