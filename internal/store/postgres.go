package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/matt-riley/flagkit/internal/core"
	"github.com/matt-riley/flagkit/internal/logging"
	"github.com/matt-riley/flagkit/migrations"
)

const selectDefinitions = `
	SELECT key, enabled, rollout_percent, default_variant, targeting, variants, updated_at
	FROM flag_definitions
	ORDER BY key
`

// Querier is the read access PostgresStore needs. *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// acquirer is implemented by pools that can hand out a dedicated connection
// for LISTEN.
type acquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// PostgresStore serves definitions from the flag_definitions table. Find and
// FindAll only read the last refreshed snapshot; Refresh or Watch keep it
// current.
type PostgresStore struct {
	db   Querier
	opts options

	current atomic.Pointer[snapshot]
}

func NewPostgresStore(db Querier, opts ...Option) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrNilQuerier
	}

	o := newOptions(opts)
	o.notifyChannel = normalizeNotifyChannel(o.notifyChannel)

	s := &PostgresStore{db: db, opts: o}
	s.current.Store(emptySnapshot(time.Time{}))
	return s, nil
}

func (s *PostgresStore) Find(key string) (core.Definition, bool) {
	if isBlank(key) {
		return core.Definition{}, false
	}

	def, ok := s.current.Load().definitions[key]
	return def, ok
}

func (s *PostgresStore) FindAll() map[string]core.Definition {
	return copyDefinitions(s.current.Load().definitions)
}

// LoadedAt reports when the last successful refresh finished.
func (s *PostgresStore) LoadedAt() time.Time {
	return s.current.Load().loadedAt
}

// Refresh loads every row into a new snapshot. On failure the previous
// snapshot stays in place and the error is returned.
func (s *PostgresStore) Refresh(ctx context.Context) error {
	definitions, err := s.loadDefinitions(ctx)
	if err != nil {
		logging.LogError(s.opts.logger, slog.LevelWarn, "flag definitions refresh failed", err)
		s.opts.report(LoadFailed, len(s.current.Load().definitions))
		return err
	}

	s.current.Store(&snapshot{definitions: definitions, loadedAt: s.opts.now()})
	s.opts.logger.Debug("flag definitions refreshed", "definitions", len(definitions))
	s.opts.report(LoadParsed, len(definitions))
	return nil
}

func (s *PostgresStore) loadDefinitions(ctx context.Context) (map[string]core.Definition, error) {
	errb := oops.In("postgres_store").With("table", "flag_definitions")

	rows, err := s.db.Query(ctx, selectDefinitions)
	if err != nil {
		return nil, errb.Code("query_failed").Wrapf(err, "list flag definitions")
	}
	defer rows.Close()

	definitions := make(map[string]core.Definition)
	for rows.Next() {
		var (
			key            string
			enabled        bool
			rolloutPercent int
			defaultVariant string
			targeting      []byte
			variants       []byte
			updatedAt      time.Time
		)
		if err := rows.Scan(&key, &enabled, &rolloutPercent, &defaultVariant, &targeting, &variants, &updatedAt); err != nil {
			return nil, errb.Code("scan_failed").Wrapf(err, "scan flag definition")
		}

		def, err := decodeRow(key, enabled, rolloutPercent, defaultVariant, targeting, variants, updatedAt)
		if err != nil {
			return nil, errb.Code("decode_failed").With("key", key).Wrapf(err, "decode flag definition")
		}
		definitions[key] = def
	}

	if err := rows.Err(); err != nil {
		return nil, errb.Code("query_failed").Wrapf(err, "list flag definitions rows")
	}

	return definitions, nil
}

// decodeRow shares the document body decoder so rows and documents apply the
// same defaults.
func decodeRow(key string, enabled bool, rolloutPercent int, defaultVariant string, targeting, variants []byte, updatedAt time.Time) (core.Definition, error) {
	body := map[string]any{
		"enabled":        enabled,
		"rolloutPercent": rolloutPercent,
		"defaultVariant": defaultVariant,
	}

	if len(targeting) > 0 {
		value, err := decodeJSONColumn(targeting)
		if err != nil {
			return core.Definition{}, fmt.Errorf("targeting: %w", err)
		}
		body["targeting"] = value
	}
	if len(variants) > 0 {
		value, err := decodeJSONColumn(variants)
		if err != nil {
			return core.Definition{}, fmt.Errorf("variants: %w", err)
		}
		body["variants"] = value
	}

	return decodeBody(key, body, core.UpdatedAt(updatedAt))
}

func decodeJSONColumn(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	return value, nil
}

// Watch keeps the snapshot current until ctx is done. It refreshes once on
// start, then on every resync tick and, when the database handle is a pool,
// on each notification delivered to the configured LISTEN channel. Refresh
// failures are logged and retried on the next trigger.
func (s *PostgresStore) Watch(ctx context.Context) error {
	_ = s.Refresh(ctx)

	notifications := make(chan struct{}, 1)
	var wg sync.WaitGroup
	if pool, ok := s.db.(acquirer); ok {
		wg.Go(func() { s.listen(ctx, pool, notifications) })
	}
	defer wg.Wait()

	ticker := time.NewTicker(s.opts.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.Refresh(ctx)
		case <-notifications:
			_ = s.Refresh(ctx)
		}
	}
}

// listenBackoff paces LISTEN reconnects.
func listenBackoff() retry.Backoff {
	return retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
}

func (s *PostgresStore) listen(ctx context.Context, pool acquirer, notifications chan<- struct{}) {
	reconnect(ctx, listenBackoff, func(ctx context.Context) (bool, error) {
		listened, err := s.listenOnce(ctx, pool, notifications)
		if ctx.Err() == nil {
			logging.LogError(s.opts.logger, slog.LevelWarn, "flag notification listener disconnected", err,
				"channel", s.opts.notifyChannel)
		}
		return listened, err
	})
}

// reconnect runs attempt until ctx is done. Attempts that fail before
// connecting wait on the backoff; an attempt that connected and later failed
// starts over with a fresh backoff.
func reconnect(ctx context.Context, newBackoff func() retry.Backoff, attempt func(context.Context) (bool, error)) {
	for ctx.Err() == nil {
		_ = retry.Do(ctx, newBackoff(), func(ctx context.Context) error {
			connected, err := attempt(ctx)
			if ctx.Err() != nil || connected {
				return nil
			}
			return retry.RetryableError(err)
		})
	}
}

// listenOnce reports whether LISTEN succeeded before the connection failed.
func (s *PostgresStore) listenOnce(ctx context.Context, pool acquirer, notifications chan<- struct{}) (bool, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, oops.In("postgres_store").Code("acquire_failed").Wrapf(err, "acquire listen connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(s.opts.notifyChannel)); err != nil {
		return false, oops.In("postgres_store").Code("listen_failed").
			With("channel", s.opts.notifyChannel).
			Wrapf(err, "listen for flag definition changes")
	}

	// Changes made while disconnected were never delivered.
	signal(notifications)

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return true, oops.In("postgres_store").Code("wait_failed").Wrapf(err, "wait for flag definition notification")
		}
		signal(notifications)
	}
}

func signal(notifications chan<- struct{}) {
	select {
	case notifications <- struct{}{}:
	default:
	}
}

func normalizeNotifyChannel(channel string) string {
	return migrations.NotifyChannel(channel)
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}
