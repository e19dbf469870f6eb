package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type itemsOptions struct {
	module   string
	orgUnits []string
	periods  []string
	xlsx     string
}

func newItemsCmd() *cobra.Command {
	var opts itemsOptions

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List submission items of a module, one JSON line per item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItems(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.module, "module", "", "Approval module (required)")
	cmd.Flags().StringSliceVar(&opts.orgUnits, "org-units", nil, "Org unit ids (required)")
	cmd.Flags().StringSliceVar(&opts.periods, "periods", nil, "Period ids (required)")
	cmd.Flags().StringVar(&opts.xlsx, "xlsx", "", "Also write the items to this .xlsx file")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("org-units")
	_ = cmd.MarkFlagRequired("periods")
	return cmd
}

func runItems(ctx context.Context, opts itemsOptions) error {
	orgUnits, periods := splitList(opts.orgUnits), splitList(opts.periods)
	if strings.TrimSpace(opts.module) == "" || len(orgUnits) == 0 || len(periods) == 0 {
		return withCode(exitUsage, fmt.Errorf("--module, --org-units and --periods are required"))
	}

	s, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	items, err := s.components.Status.ListItems(ctx, opts.module, orgUnits, periods)
	if err != nil {
		return serviceCode(err)
	}
	if opts.xlsx != "" {
		if err := writeItemsXLSX(opts.xlsx, items); err != nil {
			return withCode(exitUsage, err)
		}
	}
	for _, it := range items {
		line := struct {
			Module          string `json:"module"`
			OrgUnit         string `json:"orgUnit"`
			Period          string `json:"period"`
			Status          string `json:"status"`
			SubmissionLabel string `json:"submissionLabel"`
			Approved        bool   `json:"approved"`
			Changes         int    `json:"changes"`
		}{it.Module, it.OrgUnit, it.Period, string(it.Status), it.SubmissionLabel(), it.IsApproved(), len(it.StatusHistory)}
		if err := writeJSONLine(stdout, line); err != nil {
			return err
		}
	}
	return nil
}
