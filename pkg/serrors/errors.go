package serrors

import "fmt"

// Base is a coded error. Sentinels created with NewError are compared by identity,
// so errors.Is works across fmt.Errorf("%w") wrapping.
type Base struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	LocaleKey string `json:"locale_key,omitempty"`
}

func (b *Base) Error() string {
	return b.Message
}

func NewError(code, message, localeKey string) *Base {
	return &Base{Code: code, Message: message, LocaleKey: localeKey}
}

type FieldRequiredError struct {
	Base
	Field string `json:"field"`
}

func NewFieldRequiredError(field, localeKey string) *FieldRequiredError {
	return &FieldRequiredError{
		Base: Base{
			Code:      "FIELD_REQUIRED",
			Message:   fmt.Sprintf("%s is required", field),
			LocaleKey: localeKey,
		},
		Field: field,
	}
}
