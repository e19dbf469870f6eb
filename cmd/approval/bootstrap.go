package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/application"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/configuration"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/logging"
)

type session struct {
	conf       *configuration.Configuration
	components *approval.Components
	close      func()
}

// bootstrap wires the approval stack without the HTTP surface. Logs go to
// stderr so stdout stays JSON.
func bootstrap(ctx context.Context) (*session, error) {
	conf := configuration.Use()
	logger := logging.ConsoleLogger(conf.LogrusLogLevel())
	logger.SetOutput(stderr)

	closers := []func(){conf.Unload}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if conf.Approval.Store == "redis" || conf.DHIS2.RateLimitStorage == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: conf.RedisURL})
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var pool *pgxpool.Pool
	if conf.Approval.ImportQueue == "postgres" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		p, err := pgxpool.New(connectCtx, conf.Database.Opts)
		if err != nil {
			closeAll()
			return nil, withCode(exitConfig, fmt.Errorf("connect database: %w", err))
		}
		pool = p
		closers = append(closers, pool.Close)
	}

	app := application.New(&application.ApplicationOptions{Pool: pool, Logger: logger})
	components, err := approval.Build(app, conf, redisClient)
	if err != nil {
		closeAll()
		return nil, withCode(exitConfig, err)
	}
	if err := components.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, withCode(exitConfig, fmt.Errorf("ensure import job table: %w", err))
	}
	return &session{conf: conf, components: components, close: closeAll}, nil
}

// parseItems reads MODULE/ORG_UNIT/PERIOD arguments.
func parseItems(raw []string) ([]submission.Identifier, error) {
	if len(raw) == 0 {
		return nil, withCode(exitUsage, fmt.Errorf("at least one --item is required"))
	}
	out := make([]submission.Identifier, 0, len(raw))
	for _, r := range raw {
		id, err := submission.ParseIdentifier(strings.TrimSpace(r))
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("invalid --item: %w", err))
		}
		out = append(out, id)
	}
	return out, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
