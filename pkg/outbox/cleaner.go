package outbox

import (
	"context"
	"errors"
	"time"
)

type Cleaner struct {
	store Store
	opts  CleanerOptions
}

func NewCleaner(store Store, opts CleanerOptions) (*Cleaner, error) {
	if store == nil {
		return nil, invalidConfig("store is required")
	}
	opts.setDefaults()
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	if opts.DeadRetention > 0 && opts.DeadAttemptsThreshold <= 0 {
		return nil, invalidConfig("dead retention requires DeadAttemptsThreshold > 0")
	}
	return &Cleaner{store: store, opts: opts}, nil
}

func (c *Cleaner) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}
	if !c.opts.Enabled {
		return nil
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.CleanOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.WithError(err).WithField("queue", c.store.Label()).Warn("outbox: cleaner tick failed")
		}
	}
}

func (c *Cleaner) CleanOnce(ctx context.Context) error {
	now := time.Now()
	var deadBefore time.Time
	if c.opts.DeadRetention > 0 {
		deadBefore = now.Add(-c.opts.DeadRetention)
	}
	return c.store.Purge(ctx, now.Add(-c.opts.Retention), deadBefore, c.opts.DeadAttemptsThreshold)
}
