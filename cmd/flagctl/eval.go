package main

import (
	"github.com/spf13/cobra"

	"github.com/matt-riley/flagkit"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval KEY",
		Short: "Print the decision for a flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := contextOptions(cmd)
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetString("user")
			opts = append(opts, flagkit.WithUserID(userID))

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			decision := client.EvaluateContext(cmd.Context(), args[0], flagkit.NewEvaluationContext(opts...))
			return printJSON(cmd, decision)
		},
	}

	cmd.Flags().String("user", "", "user id used for bucketing")
	contextFlags(cmd)
	return cmd
}
