package main

import (
	"errors"
	"net/http"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK          = 0
	exitValidation  = 2
	exitUsage       = 3
	exitPlatform    = 4
	exitReplication = 5
	exitConfig      = 6
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// serviceCode maps a use-case error onto an exit code.
func serviceCode(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		switch {
		case svcErr.Code == "APPROVAL_CONFIGURATION":
			return withCode(exitConfig, err)
		case svcErr.Status < http.StatusInternalServerError:
			return withCode(exitValidation, err)
		}
	}
	return withCode(exitPlatform, err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
