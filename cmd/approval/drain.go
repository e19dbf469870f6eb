package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
)

type drainOptions struct {
	wait time.Duration
}

func (d *drainOptions) bind(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&d.wait, "drain", 2*time.Minute, "How long to run queued imports before exiting; 0 leaves them queued")
}

// run delivers queued import jobs in process. With the memory queue this is
// the only chance they get to reach the platform.
func (d *drainOptions) run(ctx context.Context, s *session, jobs int) error {
	if jobs == 0 {
		return nil
	}
	if d.wait <= 0 {
		if s.conf.Approval.ImportQueue == "memory" {
			return withCode(exitReplication, fmt.Errorf("%d import job(s) dropped: memory queue not drained", jobs))
		}
		return nil
	}
	pending, err := drainQueue(ctx, s.components.Relay, s.components.Jobs, d.wait, 500*time.Millisecond)
	if err != nil {
		return withCode(exitPlatform, err)
	}
	if pending > 0 {
		return withCode(exitReplication, fmt.Errorf("%d import job(s) still pending after %s", pending, d.wait))
	}
	return nil
}

func drainQueue(ctx context.Context, relay *outbox.Relay, store outbox.Store, wait, every time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		if _, err := relay.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return 0, err
		}
		pending, _, err := store.Depth(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return 0, err
		}
		if pending == 0 {
			return 0, nil
		}
		select {
		case <-ctx.Done():
		case <-time.After(every):
			continue
		}
		break
	}
	pending, _, err := store.Depth(context.Background())
	return pending, err
}
