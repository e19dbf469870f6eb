package approval

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/dhis2"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/importqueue"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/persistence"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/presentation/controllers"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/application"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/configuration"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
	outboxbus "github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox/dispatchers/eventbus"
)

const settingsTTL = 5 * time.Minute

type ModuleOptions struct {
	Config *configuration.Configuration
	// Required when redis is selected for the store or the rate limit.
	Redis *redis.Client
}

var _ application.Module = (*Module)(nil)

func NewModule(opts *ModuleOptions) *Module {
	return &Module{opts: opts}
}

type Module struct {
	opts       *ModuleOptions
	components *Components
}

func (m *Module) Register(app application.Application) error {
	c, err := Build(app, m.opts.Config, m.opts.Redis)
	if err != nil {
		return err
	}
	m.components = c

	app.RegisterServices(c.Status, c.Engine, c.Notifier)
	app.RegisterControllers(
		controllers.NewApprovalAPIController(c.Status),
	)
	return nil
}

func (m *Module) Name() string {
	return "approval"
}

// Components returns what Register built, nil before it ran.
func (m *Module) Components() *Components {
	return m.components
}

// Components is the wired approval stack.
type Components struct {
	Catalog  *catalog.Catalog
	Client   *dhis2.Client
	Settings *dhis2.Settings
	Resolver *services.ElementSetResolver
	Engine   *services.ReplicationEngine
	Status   *services.StatusService
	Notifier *services.Notifier

	Jobs    outbox.Store
	Queue   *importqueue.Queue
	Relay   *outbox.Relay
	Cleaner *outbox.Cleaner
}

// Build wires the approval services from configuration. Status changes are
// published on the application bus; import jobs travel on a bus of their own.
func Build(app application.Application, conf *configuration.Configuration, redisClient *redis.Client) (*Components, error) {
	logger := app.Logger()

	cat, err := catalog.Load(conf.Approval.CatalogPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load module catalog %s", conf.Approval.CatalogPath)
	}

	limiterStore, err := dhis2.NewLimiterStore(conf.DHIS2.RateLimitStorage, redisClient)
	if err != nil {
		return nil, err
	}
	client, err := dhis2.NewClient(dhis2.Options{
		BaseURL:         conf.DHIS2.URL,
		Authorization:   conf.DHIS2.Auth,
		User:            conf.DHIS2.User,
		Password:        conf.DHIS2.Password,
		Timeout:         conf.DHIS2.Timeout,
		RPS:             int64(conf.DHIS2.RPS),
		Store:           limiterStore,
		RequestIDHeader: conf.RequestIDHeader,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	settings := dhis2.NewSettings(client, conf.Approval.SettingsNamespace, conf.Approval.SettingsKey, settingsTTL)

	repo, err := newSubmissionRepository(conf.Approval.Store, redisClient)
	if err != nil {
		return nil, err
	}
	jobs, err := newJobStore(app, conf)
	if err != nil {
		return nil, err
	}
	queue := importqueue.New(jobs, time.Now)

	resolver := services.NewElementSetResolver(client, schema.NewNameMapper(conf.Approval.Suffix), logger)
	engine := services.NewReplicationEngine(cat, resolver, client, client, settings, queue, services.ReplicationOptions{
		Concurrency: conf.Approval.Concurrency,
		ChunkSize:   conf.Approval.ChunkSize,
		Logger:      logger,
	})
	status := services.NewStatusService(repo, cat, engine, client, app.EventPublisher(), services.StatusServiceOptions{
		Logger: logger,
	})
	notifier := services.NewNotifier(cat, client, client, logger)
	notifier.Register(app.EventPublisher())

	dispatcher := outboxbus.New(eventbus.NewEventPublisher(logger))
	importqueue.NewWorker(client, conf.Approval.AsyncImports, logger).Register(dispatcher)

	relay, err := outbox.NewRelay(jobs, dispatcher, outbox.RelayOptions{
		PollInterval:    conf.Outbox.RelayPollInterval,
		BatchSize:       conf.Outbox.RelayBatchSize,
		LockTTL:         conf.Outbox.RelayLockTTL,
		MaxAttempts:     conf.Outbox.RelayMaxAttempts,
		SingleActive:    conf.Outbox.RelaySingleActive,
		BaseBackoff:     conf.Outbox.RelayBaseBackoff,
		MaxBackoff:      conf.Outbox.RelayMaxBackoff,
		DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
		LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
		KindOf:          importqueue.KindOf,
		Logger:          logger.WithField("component", "import-relay"),
	})
	if err != nil {
		return nil, err
	}
	cleaner, err := outbox.NewCleaner(jobs, outbox.CleanerOptions{
		Enabled:               conf.Outbox.CleanerEnabled,
		Interval:              conf.Outbox.CleanerInterval,
		Retention:             conf.Outbox.CleanerRetention,
		DeadRetention:         conf.Outbox.CleanerDeadRetention,
		DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
		Logger:                logger.WithField("component", "import-cleaner"),
	})
	if err != nil {
		return nil, err
	}

	return &Components{
		Catalog:  cat,
		Client:   client,
		Settings: settings,
		Resolver: resolver,
		Engine:   engine,
		Status:   status,
		Notifier: notifier,
		Jobs:     jobs,
		Queue:    queue,
		Relay:    relay,
		Cleaner:  cleaner,
	}, nil
}

// EnsureSchema creates the import job table when jobs live in Postgres.
func (c *Components) EnsureSchema(ctx context.Context) error {
	pg, ok := c.Jobs.(*outbox.PGStore)
	if !ok {
		return nil
	}
	return pg.EnsureSchema(ctx)
}

// RunWorkers runs the import relay and cleaner until ctx is cancelled.
func (c *Components) RunWorkers(ctx context.Context, relayEnabled bool, logger *logrus.Logger) {
	if relayEnabled {
		go func() {
			if err := c.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("import relay stopped")
			}
		}()
	}
	go func() {
		if err := c.Cleaner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("import cleaner stopped")
		}
	}()
}

func newSubmissionRepository(kind string, client *redis.Client) (submission.Repository, error) {
	switch kind {
	case "redis":
		if client == nil {
			return nil, errors.New("redis submission store needs a redis client")
		}
		return persistence.NewSubmissionRepository(client), nil
	default:
		return persistence.NewInmemSubmissionRepository(), nil
	}
}

func newJobStore(app application.Application, conf *configuration.Configuration) (outbox.Store, error) {
	if conf.Approval.ImportQueue != "postgres" {
		return outbox.NewMemStore("approval_import_jobs"), nil
	}
	if app.DB() == nil {
		return nil, errors.New("postgres import queue needs a database pool")
	}
	table, err := outbox.ParseIdentifier(conf.Outbox.Table)
	if err != nil {
		return nil, err
	}
	return outbox.NewPGStore(app.DB(), table)
}
