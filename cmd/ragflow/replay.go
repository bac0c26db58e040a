package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/ragflow/id"
)

var errReplayDiverged = errors.New("replay diverged from recorded history")

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Re-run a stored run's workflow against its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return fmt.Errorf("run id: %w", err)
			}

			ctx := cmd.Context()
			eng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Stop(ctx) }()

			res, err := eng.Runner().Replay(ctx, runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s state=%s decisions=%d matches=%t\n",
				res.RunID, res.State, len(res.Decisions), res.Matches)
			if res.Error != "" {
				fmt.Fprintf(out, "error: %s\n", res.Error)
			}
			if !res.Matches {
				return errReplayDiverged
			}
			return nil
		},
	}
}
