// Package migrations embeds the goose SQL migrations for the
// flag_definitions table read by the Postgres store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
)

// DefaultNotifyChannel is the channel the change trigger notifies and the
// Postgres store listens on unless configured otherwise.
const DefaultNotifyChannel = "flag_definitions"

// FS contains all goose migration SQL files.
//
//go:embed *.sql
var FS embed.FS

// Up applies every pending migration to db, then points the change trigger
// at channel (blank means [DefaultNotifyChannel]). Stores must listen on the
// same channel; rerun Up after changing it.
func Up(ctx context.Context, db *sql.DB, channel string) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if _, err := db.ExecContext(ctx, notifyTriggerStatement(NotifyChannel(channel))); err != nil {
		return fmt.Errorf("set notify channel: %w", err)
	}
	return nil
}

// NotifyChannel trims channel and substitutes the default when it is blank.
func NotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}
	return DefaultNotifyChannel
}

// notifyTriggerStatement recreates the change trigger with channel as its
// argument. notify_flag_definitions reads it from TG_ARGV[0].
func notifyTriggerStatement(channel string) string {
	return fmt.Sprintf(`CREATE OR REPLACE TRIGGER flag_definitions_notify
AFTER INSERT OR UPDATE OR DELETE ON flag_definitions
FOR EACH ROW EXECUTE FUNCTION notify_flag_definitions(%s)`, quoteLiteral(channel))
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
