package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
)

func newSchemaCmd() *cobra.Command {
	var module string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the draft to approved correspondences resolved for a module",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), module)
		},
	}

	cmd.Flags().StringVar(&module, "module", "", "Approval module (required)")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

type correspondenceLine struct {
	Kind        string `json:"kind"`
	Container   string `json:"container"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Name        string `json:"name,omitempty"`
}

func runSchema(ctx context.Context, module string) error {
	s, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	m, err := s.components.Catalog.Lookup(module)
	if err != nil {
		return withCode(exitUsage, err)
	}
	resolver := s.components.Resolver

	if m.Kind == catalog.KindAggregate {
		corrs, err := resolver.ResolveElements(ctx, m.DataSet.Draft, m.DataSet.Approved)
		if err != nil {
			return withCode(exitPlatform, fmt.Errorf("resolve elements of %s: %w", m.DataSet.Draft, err))
		}
		for _, c := range corrs {
			line := correspondenceLine{Kind: "element", Container: m.DataSet.Approved, Origin: c.OriginID, Destination: c.DestinationID, Name: c.BasicName}
			if err := writeJSONLine(stdout, line); err != nil {
				return err
			}
		}
		return nil
	}

	for _, p := range m.Programs {
		stages, err := resolver.ResolveStages(ctx, p.Draft, p.Approved)
		if err != nil {
			return withCode(exitPlatform, fmt.Errorf("resolve stages of %s: %w", p.Draft, err))
		}
		for _, st := range stages {
			line := correspondenceLine{Kind: "stage", Container: p.Approved, Origin: st.OriginStageID, Destination: st.DestinationStageID}
			if err := writeJSONLine(stdout, line); err != nil {
				return err
			}
		}
	}
	return nil
}
