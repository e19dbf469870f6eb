package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/composables"
)

func loggerFromContext(ctx context.Context, fallback *logrus.Logger) *logrus.Entry {
	if entry, err := composables.UseLogger(ctx); err == nil {
		return entry
	}
	if fallback == nil {
		fallback = logrus.StandardLogger()
	}
	return logrus.NewEntry(fallback)
}
