package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// Validation rejects envelopes that violate their struct constraints.
type Validation struct {
	validate *validator.Validate
}

// NewValidation returns a Validation using its own validator instance.
func NewValidation() *Validation {
	return &Validation{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validation) Process(_ context.Context, in *domain.HandlerInput) error {
	if in.Envelope == nil {
		return domain.NewDomainError(domain.ErrValidationFailed, domain.CodeValidationFailed, "request envelope is missing")
	}

	err := v.validate.Struct(in.Envelope)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	fields := make([]string, 0, len(fieldErrs))
	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
		details[fe.Field()] = fe.Tag()
	}
	return &domain.DomainError{
		Err:     domain.ErrValidationFailed,
		Code:    domain.CodeValidationFailed,
		Message: "invalid request fields: " + strings.Join(fields, ", "),
		Details: details,
	}
}
