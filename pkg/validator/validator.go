// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/visscan/api/pkg/domain/scan"
)

// imageNameRegex validates registry image names: lowercase path
// segments separated by slashes, optional registry host.
var imageNameRegex = regexp.MustCompile(`^[a-z0-9]+(?:[._\-/][a-z0-9]+)*$`)

// imageTagRegex follows the OCI tag grammar.
var imageTagRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._\-]{0,127}$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("scan_kind", validateScanKind)
	_ = v.RegisterValidation("scan_status", validateScanStatus)
	_ = v.RegisterValidation("image_name", validateImageName)
	_ = v.RegisterValidation("image_tag", validateImageTag)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}

	return result
}

// validateScanKind validates that a string is a valid scan kind.
func validateScanKind(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return scan.Kind(value).IsValid()
}

// validateScanStatus validates that a string is a known scan status.
func validateScanStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	switch scan.Status(value) {
	case scan.StatusPending, scan.StatusQueued, scan.StatusRunning,
		scan.StatusProcessing, scan.StatusWaitingConfirmation,
		scan.StatusSuccess, scan.StatusBlocked, scan.StatusFailed,
		scan.StatusFailedBuild, scan.StatusFailedSecurity,
		scan.StatusFailedTrigger, scan.StatusCancelled:
		return true
	default:
		return false
	}
}

// validateImageName validates a registry image name.
func validateImageName(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return imageNameRegex.MatchString(value)
}

// validateImageTag validates an OCI image tag.
func validateImageTag(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return imageTagRegex.MatchString(value)
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "scan_kind":
		return "must be one of: SCAN_ONLY, SCAN_AND_BUILD"
	case "scan_status":
		return "must be a valid scan status"
	case "image_name":
		return "must be a valid image name (lowercase, slash-separated)"
	case "image_tag":
		return "must be a valid image tag"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				result.WriteByte('_')
			}
			result.WriteRune(r - 'A' + 'a')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
