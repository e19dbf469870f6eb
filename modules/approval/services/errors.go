package services

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/serrors"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// configurationError marks a container as unusable; it aborts the whole call.
func configurationError(message string, cause error) *ServiceError {
	return newServiceError(http.StatusInternalServerError, "APPROVAL_CONFIGURATION", message, cause)
}

// invalidBody wraps a failed DTO validation. A missing field becomes the
// cause as a serrors.FieldRequiredError.
func invalidBody(message string, err error) *ServiceError {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		for _, fe := range fields {
			if fe.Tag() == "required" {
				err = serrors.NewFieldRequiredError(fe.Field(), "Approval.Fields."+fe.Field())
				break
			}
		}
	}
	return newServiceError(http.StatusBadRequest, "APPROVAL_INVALID_BODY", message, err)
}

// ImportError is returned by stores when the platform rejects an import.
// Result holds the import summary decoded from the response body, if any.
type ImportError struct {
	HTTPStatus int
	Message    string
	Result     *ImportResult
}

func (e *ImportError) Error() string {
	if e.HTTPStatus == 0 {
		return e.Message
	}
	return fmt.Sprintf("import rejected (HTTP %d): %s", e.HTTPStatus, e.Message)
}
