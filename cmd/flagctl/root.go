package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matt-riley/flagkit"
	"github.com/matt-riley/flagkit/internal/config"
	"github.com/matt-riley/flagkit/internal/logging"
	"github.com/matt-riley/flagkit/internal/tracing"
)

const tracerShutdownTimeout = 5 * time.Second

// flagEnv maps global flags onto the environment variables they override.
var flagEnv = map[string]string{
	"store":          "FEATUREFLAG_STORE",
	"file":           "FEATUREFLAG_FILE_PATH",
	"ttl":            "FEATUREFLAG_CACHE_TTL",
	"database-url":   "FEATUREFLAG_DATABASE_URL",
	"log-level":      "FEATUREFLAG_LOG_LEVEL",
	"notify-channel": "FEATUREFLAG_NOTIFY_CHANNEL",
}

func newRootCmd() *cobra.Command {
	var shutdownTracer func(context.Context) error

	root := &cobra.Command{
		Use:           "flagctl",
		Short:         "Inspect flag definitions and decisions",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			shutdown, err := tracing.Init(cmd.Context())
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			shutdownTracer = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdownTracer == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
			defer cancel()
			return shutdownTracer(ctx)
		},
	}

	flags := root.PersistentFlags()
	flags.String("env-file", "", "dotenv file loaded before reading FEATUREFLAG_* variables")
	flags.String("store", "", "definition store: MEMORY, FILE or POSTGRES")
	flags.String("file", "", "definition document path for the FILE store")
	flags.Duration("ttl", 0, "file snapshot lifetime")
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("notify-channel", "", "Postgres LISTEN channel shared by the store and the change trigger")

	root.AddCommand(newEvalCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

// loadConfig reads FEATUREFLAG_* variables, then applies explicitly set
// flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	overrides := make(map[string]string)
	for name, key := range flagEnv {
		if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
			overrides[key] = flag.Value.String()
		}
	}

	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadWithEnvFile(envFile, overrides)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
}

// newClient builds a flagkit client from the command's configuration.
func newClient(cmd *cobra.Command) (*flagkit.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	client, err := flagkit.New(cmd.Context(), cfg, flagkit.WithLogger(newLogger(cmd, cfg)))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

// contextFlags registers the evaluation context flags shared by eval and
// simulate.
func contextFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("group", nil, "group membership (repeatable)")
	cmd.Flags().StringArray("attr", nil, "attribute as name=value (repeatable)")
}

func contextOptions(cmd *cobra.Command) ([]flagkit.ContextOption, error) {
	groups, _ := cmd.Flags().GetStringSlice("group")
	rawAttrs, _ := cmd.Flags().GetStringArray("attr")

	attrs := make(map[string]string, len(rawAttrs))
	for _, raw := range rawAttrs {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --attr %q: want name=value", raw)
		}
		attrs[strings.TrimSpace(name)] = value
	}

	return []flagkit.ContextOption{
		flagkit.WithGroups(groups...),
		flagkit.WithAttributes(attrs),
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
