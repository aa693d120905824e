package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

// newValidator returns a validator that reports fields by their TOML keys and
// knows the gateway-specific rules.
func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("https_origin", validateHTTPSOrigin); err != nil {
		return nil, fmt.Errorf("register https_origin validator: %w", err)
	}
	if err := v.RegisterValidation("path_prefix", validatePathPrefix); err != nil {
		return nil, fmt.Errorf("register path_prefix validator: %w", err)
	}
	return v, nil
}

// validateHTTPSOrigin accepts absolute https URLs without query or fragment.
func validateHTTPSOrigin(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != "" && u.RawQuery == "" && u.Fragment == ""
}

// validatePathPrefix accepts "/segment[/segment...]" with no trailing slash.
func validatePathPrefix(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if len(p) < 2 || p[0] != '/' || strings.HasSuffix(p, "/") {
		return false
	}
	return !strings.ContainsAny(p, "?#*")
}

func validateStruct(c *Config) error {
	v, err := newValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors into one error
// per field.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	var combined error
	for _, e := range validationErrors {
		combined = multierr.Append(combined, errors.New(formatSingleValidationError(e)))
	}
	return combined
}

func formatSingleValidationError(e validator.FieldError) string {
	// Namespace is "Config.upstream.base_url"; drop the root type name.
	field := e.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be >= %s; got %v", field, e.Param(), e.Value())
	case "lte":
		return fmt.Sprintf("%s must be <= %s; got %v", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s; got %q", field, strings.ReplaceAll(e.Param(), " ", ", "), e.Value())
	case "https_origin":
		return fmt.Sprintf("%s must be an absolute https:// URL without query; got %q", field, e.Value())
	case "path_prefix":
		return fmt.Sprintf("%s must start with '/', have no trailing '/' and no '?', '#' or '*'; got %q", field, e.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
