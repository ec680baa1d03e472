package middleware

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/consentflow/consent-api/internal/permission"
	apperrors "github.com/consentflow/consent-api/pkg/errors"
)

// ValidationConfig represents validation configuration
type ValidationConfig struct {
	CustomValidators    map[string]validator.Func
	CustomErrorMessages map[string]string
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomValidators: map[string]validator.Func{
			"staff_role": func(fl validator.FieldLevel) bool {
				return permission.StaffRole(fl.Field().String()).Valid()
			},
			"permission": func(fl validator.FieldLevel) bool {
				p := permission.Permission(fl.Field().String())
				for _, role := range permission.Roles() {
					if permission.Allowed(role, p) {
						return true
					}
				}
				return false
			},
		},
		CustomErrorMessages: map[string]string{
			"required":   "is required",
			"email":      "must be a valid email",
			"min":        "is too short",
			"max":        "is too long",
			"uuid":       "must be a uuid",
			"oneof":      "is not an allowed value",
			"staff_role": "must be manager or nurse",
			"permission": "is not a known permission",
		},
	}
}

var (
	registerOnce sync.Once
	registerErr  error
	messages     map[string]string
)

// RegisterValidators installs the custom tags on gin's binding validator.
// Only the first call has an effect.
func RegisterValidators(config ValidationConfig) error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = stderrors.New("unexpected binding validator engine")
			return
		}
		for tag, fn := range config.CustomValidators {
			if err := v.RegisterValidation(tag, fn); err != nil {
				registerErr = fmt.Errorf("failed to register %q validator: %w", tag, err)
				return
			}
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		messages = config.CustomErrorMessages
	})
	return registerErr
}

// BindError converts a request binding failure to a validation error whose
// details name the offending fields.
func BindError(err error) error {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		details := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msg := messages[e.Tag()]
			if msg == "" {
				msg = "failed " + e.Tag()
			}
			details = append(details, e.Field()+" "+msg)
		}
		return apperrors.Validation("invalid request", details...)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return apperrors.BadRequest("malformed request body", err)
	}
	return apperrors.BadRequest("invalid request", err)
}
