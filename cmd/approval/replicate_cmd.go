package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

type replicateOptions struct {
	items []string
	drain drainOptions
}

func newReplicateCmd() *cobra.Command {
	var opts replicateOptions

	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Copy draft data of items into the approved schema without changing their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicate(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.items, "item", nil, "Item as MODULE/ORG_UNIT/PERIOD (repeatable)")
	opts.drain.bind(cmd)
	return cmd
}

func runReplicate(ctx context.Context, opts replicateOptions) error {
	items, err := parseItems(opts.items)
	if err != nil {
		return err
	}

	s, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.components.Status.Replicate(ctx, items)
	if err != nil {
		return serviceCode(err)
	}
	for _, st := range res.Stats {
		if err := writeJSONLine(stdout, st); err != nil {
			return err
		}
	}
	for _, job := range res.Jobs {
		if err := writeJSONLine(stdout, job); err != nil {
			return err
		}
	}
	if failed := services.Failures(res.Stats); len(failed) > 0 {
		return withCode(exitReplication, fmt.Errorf("replication failed for %d cell(s)", len(failed)))
	}
	return opts.drain.run(ctx, s, len(res.Jobs))
}
