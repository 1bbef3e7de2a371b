package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/mathutil"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,4}$`)
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
)

// FieldError describes one rejected form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validator collects field errors for a form so every problem is reported
// at once instead of one per submit.
type Validator struct {
	errors []FieldError
}

// Add records a failure for field.
func (v *Validator) Add(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// Required records a failure when value is blank.
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "is required")
		return false
	}
	return true
}

// Email records a failure when value is not a plausible email address.
func (v *Validator) Email(field, value string) {
	if v.Required(field, value) && !ValidEmail(value) {
		v.Add(field, "must be a valid email address")
	}
}

// Phone records a failure when value is not a ten digit phone number.
func (v *Validator) Phone(field, value string) {
	if v.Required(field, value) && !ValidPhone(value) {
		v.Add(field, "must be a 10 digit phone number")
	}
}

// PositiveAmount records a failure when value is not a finite amount above zero.
func (v *Validator) PositiveAmount(field string, value float64) {
	if !mathutil.IsFinite(value) || value <= 0 {
		v.Add(field, "must be greater than zero")
	}
}

// PositiveInt records a failure when value is not above zero.
func (v *Validator) PositiveInt(field string, value int) {
	if value <= 0 {
		v.Add(field, "must be greater than zero")
	}
}

// Errors returns the collected failures.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Err returns nil when no failures were recorded, otherwise a Validation
// error listing every field.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	parts := make([]string, len(v.errors))
	for i, e := range v.errors {
		parts[i] = e.String()
	}
	return apperr.New(apperr.KindValidation, "%s", strings.Join(parts, "; "))
}

// ValidEmail reports whether value looks like an email address.
func ValidEmail(value string) bool {
	return emailPattern.MatchString(value)
}

// ValidPhone reports whether value is a ten digit phone number.
func ValidPhone(value string) bool {
	return phonePattern.MatchString(value)
}
