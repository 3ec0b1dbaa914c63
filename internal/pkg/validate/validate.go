package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-api-notify/internal/domain"
	"github.com/go-playground/validator/v10"
)

var v = newValidator()

// newValidator registers the domain enum tags: notification_type, priority
// and role. Empty values pass; pair them with required where needed.
func newValidator() *validator.Validate {
	val := validator.New()
	enums := map[string]func(string) bool{
		"notification_type": func(s string) bool { return domain.NotificationType(s).Valid() },
		"priority":          func(s string) bool { return domain.Priority(s).Valid() },
		"role":              func(s string) bool { return domain.Role(s).Valid() },
	}
	for tag, valid := range enums {
		valid := valid
		_ = val.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || valid(s)
		})
	}
	return val
}

// Struct validates s against its validate tags and flattens the failures
// into one readable error.
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s=%s'", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// BadRequest validates s and wraps any failure in domain.ErrBadRequest.
func BadRequest(s interface{}) error {
	if err := Struct(s); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	return nil
}
