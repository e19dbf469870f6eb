package composables

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/constants"
)

var (
	ErrNoLogger = errors.New("logger not found")
)

// WithLogger returns a new context carrying the given log entry.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger from the context.
// A *logrus.Logger stored under the key is wrapped into an entry.
func UseLogger(ctx context.Context) (*logrus.Entry, error) {
	if ctx == nil {
		return nil, ErrNoLogger
	}
	switch typed := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		return typed, nil
	case *logrus.Logger:
		return logrus.NewEntry(typed), nil
	default:
		return nil, ErrNoLogger
	}
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

// UseRequestID returns the request id from the context.
// If the request id is not found, the second return value will be false.
func UseRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(constants.RequestIDKey).(string)
	return id, ok && id != ""
}
