// Package store provides the flag definition stores consumed by the decision
// engine: an in-memory table, a caching file-backed document store, and a
// Postgres-backed store refreshed by LISTEN/NOTIFY.
package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/matt-riley/flagkit/internal/core"
	"github.com/matt-riley/flagkit/migrations"
)

var (
	// ErrFilePathRequired is returned when a file store is built without a path.
	ErrFilePathRequired = errors.New("flag document path is required")
	// ErrMalformedDocument wraps every error produced while decoding a
	// definition document.
	ErrMalformedDocument = errors.New("malformed flag document")
	// ErrNilQuerier is returned when a Postgres store is built without a database handle.
	ErrNilQuerier = errors.New("querier is nil")
)

const (
	defaultNotifyChannel  = migrations.DefaultNotifyChannel
	defaultResyncInterval = time.Minute
)

// LoadOutcome describes the result of a single store load attempt.
type LoadOutcome string

const (
	LoadParsed    LoadOutcome = "parsed"
	LoadUnchanged LoadOutcome = "unchanged"
	LoadMissing   LoadOutcome = "missing"
	LoadFailed    LoadOutcome = "failed"
)

// LoadHook observes each load attempt with the number of definitions
// installed afterwards.
type LoadHook func(outcome LoadOutcome, definitions int)

type options struct {
	ttl             time.Duration
	parser          ParseFunc
	now             func() time.Time
	logger          *slog.Logger
	onLoad          LoadHook
	preserveOnError bool
	notifyChannel   string
	resyncInterval  time.Duration
}

// Option configures a FileStore or PostgresStore. Options that do not apply
// to a store are ignored by it.
type Option func(*options)

// WithTTL sets how long a loaded snapshot is served before the backing
// document is checked again. Negative values mean zero, which reloads on
// every access.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = max(ttl, 0) }
}

// WithParser replaces the document parser chosen from the file extension.
func WithParser(parser ParseFunc) Option {
	return func(o *options) {
		if parser != nil {
			o.parser = parser
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithLoadHook(hook LoadHook) Option {
	return func(o *options) { o.onLoad = hook }
}

// WithPreserveOnError keeps serving the last good snapshot when a reload
// fails to read or parse the document. By default a failed reload installs
// an empty snapshot.
func WithPreserveOnError(preserve bool) Option {
	return func(o *options) { o.preserveOnError = preserve }
}

// WithNotifyChannel sets the LISTEN channel used by PostgresStore.Watch.
func WithNotifyChannel(channel string) Option {
	return func(o *options) { o.notifyChannel = channel }
}

// WithResyncInterval sets how often PostgresStore.Watch refreshes without a
// notification.
func WithResyncInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.resyncInterval = interval
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:            time.Now,
		logger:         slog.New(slog.DiscardHandler),
		notifyChannel:  defaultNotifyChannel,
		resyncInterval: defaultResyncInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) report(outcome LoadOutcome, definitions int) {
	if o.onLoad != nil {
		o.onLoad(outcome, definitions)
	}
}

// snapshot is replaced as a whole; readers never see a partially updated one.
type snapshot struct {
	definitions  map[string]core.Definition
	loadedAt     time.Time
	modTime      time.Time
	modTimeKnown bool
	revision     string
}

func emptySnapshot(loadedAt time.Time) *snapshot {
	return &snapshot{definitions: map[string]core.Definition{}, loadedAt: loadedAt}
}

func copyDefinitions(definitions map[string]core.Definition) map[string]core.Definition {
	out := make(map[string]core.Definition, len(definitions))
	for key, def := range definitions {
		out[key] = def
	}
	return out
}

var (
	_ core.Store = (*MemoryStore)(nil)
	_ core.Store = (*FileStore)(nil)
	_ core.Store = (*PostgresStore)(nil)
)

// isBlank reports keys that can never name a definition.
func isBlank(key string) bool {
	return strings.TrimSpace(key) == ""
}
