// Package validate wraps go-playground/validator so that field errors use JSON
// names and come back as a model.ValidationError.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/cbt/internal/model"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		// Use JSON tag names for errors instead of Go struct names.
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return instance
}

// Struct runs tag validation on v. The returned ValidationError is never nil;
// callers append their own rules and finish with OrNil.
func Struct(v any) *model.ValidationError {
	verr := model.NewValidationError()
	err := get().Struct(v)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), message(fe))
	}
	return verr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gtfield":
		return "must be after " + snakeCase(fe.Param())
	case "unique":
		return "must not contain duplicates"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// snakeCase turns a Go field name such as StartTime into start_time.
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
