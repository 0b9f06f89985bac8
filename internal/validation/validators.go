package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Report json names so field errors match form and event field names
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := Validate.RegisterValidation("finite", validateFinite); err != nil {
		panic(fmt.Sprintf("failed to register finite validator: %v", err))
	}
}

// validateFinite rejects NaN and ±Inf
func validateFinite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		v := fl.Field().Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	default:
		return true
	}
}

// ValidateRecord checks a health record before it is written
func ValidateRecord(record *models.HealthRecord) error {
	if record == nil {
		return &errs.ValidationError{Message: "record is required"}
	}
	return toValidationErrors(Validate.Struct(record))
}

// ValidateCredentials checks that an email/password pair is present.
// Format and strength checks belong to the identity provider.
func ValidateCredentials(email, password string) error {
	var out errs.ValidationErrors
	if strings.TrimSpace(email) == "" {
		out = append(out, &errs.ValidationError{Field: "email", Message: "is required"})
	}
	if password == "" {
		out = append(out, &errs.ValidationError{Field: "password", Message: "is required"})
	}
	if len(out) > 0 {
		return out
	}
	return nil
}

func toValidationErrors(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &errs.ValidationError{Message: err.Error()}
	}
	out := make(errs.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, &errs.ValidationError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "finite":
		return "must be a finite number"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}
