package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/go-playground/validator/v10"
)

var ErrInvalidManifest = errors.New("invalid plugin manifest")

var (
	slugPattern    = regexp.MustCompile(`^[A-Za-z0-9/_-]{1,100}$`)
	versionPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)
)

// ValidationResult maps manifest fields to the messages describing what is wrong with them.
type ValidationResult struct {
	Valid  bool                `json:"valid"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func (r ValidationResult) add(field, message string) ValidationResult {
	if r.Errors == nil {
		r.Errors = make(map[string][]string)
	}
	r.Errors[field] = append(r.Errors[field], message)
	r.Valid = false
	return r
}

// JSON renders the errors the way operators see them in logs.
func (r ValidationResult) JSON() string {
	data, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Sprintf("%v", r.Errors)
	}
	return string(data)
}

// Summary is a stable one-line rendering, fields sorted.
func (r ValidationResult) Summary() string {
	fields := make([]string, 0, len(r.Errors))
	for f := range r.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+" "+strings.Join(r.Errors[f], ", "))
	}
	return strings.Join(parts, "; ")
}

// Validator applies the manifest rules expressed as struct tags on PluginDescriptor.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("plugin_slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("host_version", func(fl validator.FieldLevel) bool {
		return versionPattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Validate never fails for malformed input; problems are reported in the result.
func (val *Validator) Validate(desc *models.PluginDescriptor, strict bool) ValidationResult {
	result := ValidationResult{Valid: true}
	if desc == nil {
		return result.add("manifest", "is missing")
	}

	if err := val.v.Struct(desc); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return result.add("manifest", err.Error())
		}
		for _, fe := range fieldErrs {
			result = result.add(fe.Field(), message(fe))
		}
	}

	if strict && desc.ID == "" {
		result = result.add("id", "is required")
	}
	return result
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must not have more than %s items", fe.Param())
		}
		return fmt.Sprintf("must not be longer than %s characters", fe.Param())
	case "url":
		return "must be a valid URL"
	case "plugin_slug":
		return "may only contain letters, digits, '/', '_' and '-'"
	case "host_version":
		return "must be a version in the form x.y.z"
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
