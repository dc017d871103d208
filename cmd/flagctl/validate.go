package main

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/matt-riley/flagkit/internal/store"
)

type validation struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	Definitions []string `json:"definitions"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Schema-check and parse a definition document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			format := store.FormatForPath(path)
			if err := store.ValidateDocument(data, format); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			definitions, err := store.ParserFor(format)(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			return printJSON(cmd, validation{
				Path:        path,
				Format:      string(format),
				Definitions: slices.Sorted(maps.Keys(definitions)),
			})
		},
	}
}
