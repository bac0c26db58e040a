package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/ragflow/gateway"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		workflowName string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer one question in-process and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				_ = eng.Stop(context.Background())
				return err
			}
			defer func() { _ = eng.Stop(context.Background()) }()

			opts := []gateway.Option{gateway.WithLogger(a.logger)}
			if workflowName != "" {
				opts = append(opts, gateway.WithWorkflow(workflowName))
			}
			res, err := gateway.New(eng, opts...).Submit(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(res)
			}
			_, err = fmt.Fprintln(out, res.Answer)
			return err
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "", "workflow to run (default orchestrator.workflow)")
	cmd.Flags().BoolVar(&asJSON, "json", false, `print {"answer": ...} instead of the bare answer`)
	return cmd
}
