package main

import (
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matt-riley/flagkit"
)

type simulation struct {
	Key         string                 `json:"key"`
	Samples     int                    `json:"samples"`
	Enabled     int                    `json:"enabled"`
	EnabledRate float64                `json:"enabledRate"`
	Reasons     map[flagkit.Reason]int `json:"reasons"`
	Variants    map[string]int         `json:"variants"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate KEY",
		Short: "Evaluate a flag for random anonymous identities",
		Long: "Evaluates KEY once per sample with a fresh random anonId and reports how\n" +
			"decisions are spread across reasons and variants.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, _ := cmd.Flags().GetInt("samples")
			if samples <= 0 {
				return errors.New("--samples must be > 0")
			}
			opts, err := contextOptions(cmd)
			if err != nil {
				return err
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			return printJSON(cmd, simulate(client, args[0], samples, opts))
		},
	}

	cmd.Flags().Int("samples", 1000, "number of identities to evaluate")
	contextFlags(cmd)
	return cmd
}

func simulate(client *flagkit.Client, key string, samples int, opts []flagkit.ContextOption) simulation {
	result := simulation{
		Key:      key,
		Samples:  samples,
		Reasons:  make(map[flagkit.Reason]int),
		Variants: make(map[string]int),
	}

	for range samples {
		sampleOpts := append(opts[:len(opts):len(opts)], flagkit.WithAttribute("anonId", uuid.NewString()))
		decision := client.Evaluate(key, flagkit.NewEvaluationContext(sampleOpts...))

		result.Reasons[decision.Reason]++
		result.Variants[decision.Variant]++
		if decision.Enabled {
			result.Enabled++
		}
	}

	result.EnabledRate = float64(result.Enabled) / float64(samples)
	return result
}
