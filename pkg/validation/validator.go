// Package validation checks caller-supplied names, sizes and configuration
// structs before they reach the engine.
package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Name limits shared with the on-flash formats.
	MaxPartitionName = 16
	MaxRecordName    = 15

	// Names travel in URL paths and on the CLI, so they are restricted to
	// printable ASCII without separators.
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("flashname", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
}

// BlobRef names one blob in one partition.
type BlobRef struct {
	Partition string `validate:"required,max=16,flashname"`
	Namespace string `validate:"required,max=15,flashname"`
	Key       string `validate:"required,max=15,flashname"`
}

// NamespaceRef names one namespace in one partition.
type NamespaceRef struct {
	Partition string `validate:"required,max=16,flashname"`
	Namespace string `validate:"required,max=15,flashname"`
}

// ValidateBlobRef validates a partition/namespace/key triple.
func ValidateBlobRef(ref *BlobRef) error {
	if ref == nil {
		return fmt.Errorf("%w: blob reference cannot be nil", status.ErrInvalidArgument)
	}
	return Struct(ref)
}

// ValidateNamespaceRef validates a partition/namespace pair.
func ValidateNamespaceRef(ref *NamespaceRef) error {
	if ref == nil {
		return fmt.Errorf("%w: namespace reference cannot be nil", status.ErrInvalidArgument)
	}
	return Struct(ref)
}

// ValidatePartitionName validates a bare partition name.
func ValidatePartitionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: partition name cannot be empty", status.ErrInvalidArgument)
	}
	if len(name) > MaxPartitionName {
		return fmt.Errorf("%w: partition name %q exceeds %d bytes", status.ErrInvalidArgument, name, MaxPartitionName)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: partition name %q contains invalid characters", status.ErrInvalidArgument, name)
	}
	return nil
}

// ValidateSize checks a declared blob size against a partition limit.
// A negative limit disables the upper bound.
func ValidateSize(size, limit int) error {
	if size < 0 {
		return fmt.Errorf("%w: size must not be negative, got %d", status.ErrInvalidArgument, size)
	}
	if limit >= 0 && size > limit {
		return fmt.Errorf("%w: size %d exceeds maximum of %d", status.ErrInvalidArgument, size, limit)
	}
	return nil
}

// Struct validates any tagged struct with the shared validator.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", status.ErrInvalidArgument, err)
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%w: %s: field is required", status.ErrInvalidArgument, field)
		case "min", "gte":
			return fmt.Errorf("%w: %s: must be at least %s", status.ErrInvalidArgument, field, param)
		case "max", "lte":
			return fmt.Errorf("%w: %s: must not exceed %s", status.ErrInvalidArgument, field, param)
		case "gt":
			return fmt.Errorf("%w: %s: must be greater than %s", status.ErrInvalidArgument, field, param)
		case "oneof":
			return fmt.Errorf("%w: %s: must be one of [%s]", status.ErrInvalidArgument, field, param)
		case "flashname":
			return fmt.Errorf("%w: %s: %q contains invalid characters", status.ErrInvalidArgument, field, e.Value())
		default:
			return fmt.Errorf("%w: %s: validation failed (%s)", status.ErrInvalidArgument, field, e.Tag())
		}
	}

	return fmt.Errorf("%w: %v", status.ErrInvalidArgument, err)
}
