package approval_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/application"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/configuration"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
)

func testConfig() *configuration.Configuration {
	return &configuration.Configuration{
		DHIS2: configuration.DHIS2Options{
			URL:              "http://localhost:8080",
			Timeout:          time.Second,
			RPS:              10,
			RateLimitStorage: "memory",
		},
		Approval: configuration.ApprovalOptions{
			Suffix:            "_APVD",
			Concurrency:       2,
			ChunkSize:         100,
			CatalogPath:       "../../config/approval/modules.yaml",
			SettingsNamespace: "data-approval",
			SettingsKey:       "settings",
			Store:             "memory",
			ImportQueue:       "memory",
		},
		Outbox: configuration.OutboxOptions{
			Table:            "public.approval_import_jobs",
			RelayMaxAttempts: 3,
		},
	}
}

func newApp() application.Application {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return application.New(&application.ApplicationOptions{Logger: logger})
}

func TestModule_Register(t *testing.T) {
	app := newApp()
	m := approval.NewModule(&approval.ModuleOptions{Config: testConfig()})
	require.NoError(t, m.Register(app))
	assert.Equal(t, "approval", m.Name())

	var keys []string
	for _, c := range app.Controllers() {
		keys = append(keys, c.Key())
	}
	assert.Contains(t, keys, "/approval/api")

	status, ok := app.Service(services.StatusService{}).(*services.StatusService)
	require.True(t, ok)
	assert.NotEmpty(t, status.Catalog().Modules())

	c := m.Components()
	require.NotNil(t, c)
	assert.IsType(t, &outbox.MemStore{}, c.Jobs)
	assert.NoError(t, c.EnsureSchema(context.Background()))
	assert.Equal(t, 1, app.EventPublisher().SubscribersCount())
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	cases := map[string]func(*configuration.Configuration){
		"missing catalog":         func(c *configuration.Configuration) { c.Approval.CatalogPath = "does/not/exist.yaml" },
		"redis store no client":   func(c *configuration.Configuration) { c.Approval.Store = "redis" },
		"redis limiter no client": func(c *configuration.Configuration) { c.DHIS2.RateLimitStorage = "redis" },
		"postgres queue no pool":  func(c *configuration.Configuration) { c.Approval.ImportQueue = "postgres" },
		"bad platform url":        func(c *configuration.Configuration) { c.DHIS2.URL = "::" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			conf := testConfig()
			mutate(conf)
			_, err := approval.Build(newApp(), conf, nil)
			require.Error(t, err)
		})
	}
}
