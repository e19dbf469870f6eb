package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

type statusOptions struct {
	action string
	items  []string
	drain  drainOptions
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Apply a workflow action (complete, submit, approve, reject, ...) to submission items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.action, "action", "", "Workflow action (required)")
	cmd.Flags().StringArrayVar(&opts.items, "item", nil, "Item as MODULE/ORG_UNIT/PERIOD (repeatable)")
	opts.drain.bind(cmd)
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func runStatus(ctx context.Context, opts statusOptions) error {
	items, err := parseItems(opts.items)
	if err != nil {
		return err
	}

	s, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.components.Status.Apply(ctx, services.ApplyDTO{Items: items, Action: services.Action(opts.action)})
	if err != nil {
		return serviceCode(err)
	}
	if err := writeJSONLine(stdout, res); err != nil {
		return err
	}
	if len(res.Unsaved) > 0 {
		return fmt.Errorf("%s stored for %d item(s), %d not stored", opts.action, len(res.Items), len(res.Unsaved))
	}
	if !res.Success {
		return withCode(exitReplication, fmt.Errorf("%s not applied: replication failed for %d cell(s)", opts.action, len(services.Failures(res.Stats))))
	}
	return opts.drain.run(ctx, s, len(res.Jobs))
}
