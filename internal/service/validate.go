package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateStruct checks struct tags and turns the first failure into a
// validation error naming the field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return validationError("invalid request")
	}

	fe := verrs[0]
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required", "notblank":
		return validationError(fmt.Sprintf("%s is required", field))
	case "required_without":
		return validationError(fmt.Sprintf("%s or %s is required", field, toSnake(fe.Param())))
	case "oneof":
		return validationError(fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
	case "max":
		return validationError(fmt.Sprintf("%s exceeds maximum length", field))
	case "min":
		return validationError(fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
	default:
		return validationError(fmt.Sprintf("%s is invalid", field))
	}
}

// toSnake converts a Go field name such as ConversationID to conversation_id.
func toSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			prevLower := i > 0 && !(runes[i-1] >= 'A' && runes[i-1] <= 'Z')
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
