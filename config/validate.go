package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/glimte/courier/serialization"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ValidationError lists every offending field of a configuration, keyed by
// its path (for example "Destinations[cust.update].Receiver.QueueName").
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "config: validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "config: validation failed: " + strings.Join(parts, "; ")
}

type configValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	validatorOnce sync.Once
	sharedV       *configValidator
	sharedErr     error
)

func defaultValidator() (*configValidator, error) {
	validatorOnce.Do(func() {
		sharedV, sharedErr = newValidator()
	})
	return sharedV, sharedErr
}

func newValidator() (*configValidator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	trans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, errors.New("config: english translator not found")
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("config: register translations: %w", err)
	}

	rules := map[string]struct {
		fn  validator.Func
		msg string
	}{
		"concurrency": {
			fn: func(fl validator.FieldLevel) bool {
				_, err := ParseConcurrency(fl.Field().String())
				return err == nil
			},
			msg: `{0} must be "min-max" or a single count of at least 1`,
		},
		"codec": {
			fn: func(fl validator.FieldLevel) bool {
				_, err := serialization.New(fl.Field().String())
				return err == nil
			},
			msg: "{0} must name a registered codec",
		},
	}

	for tag, rule := range rules {
		if err := validate.RegisterValidation(tag, rule.fn); err != nil {
			return nil, fmt.Errorf("config: register %s rule: %w", tag, err)
		}
		msg := rule.msg
		err := validate.RegisterTranslation(tag, trans,
			func(ut ut.Translator) error {
				return ut.Add(tag, msg, false)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, err := ut.T(fe.Tag(), fe.Field())
				if err != nil {
					return fe.Error()
				}
				return t
			},
		)
		if err != nil {
			return nil, fmt.Errorf("config: register %s translation: %w", tag, err)
		}
	}

	return &configValidator{validate: validate, translator: trans}, nil
}

// Validate checks cfg against its struct rules. A *ValidationError is
// returned when any field is invalid.
func Validate(cfg *Config) error {
	v, err := defaultValidator()
	if err != nil {
		return err
	}

	if err := v.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}

		out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
		for _, fe := range fieldErrs {
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			out.Fields[key] = fe.Translate(v.translator)
		}
		return out
	}
	return nil
}
