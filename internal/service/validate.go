package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/naperu/estatebot/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("lead_field", func(fl validator.FieldLevel) bool {
		return domain.IsEditableLeadField(fl.Field().String())
	})
	_ = v.RegisterValidation("lead_origin", func(fl validator.FieldLevel) bool {
		switch domain.LeadOrigin(fl.Field().String()) {
		case domain.OriginMessagingImport, domain.OriginScreenshotImport:
			return true
		}
		return false
	})
	return v
}

// Validate checks v against its struct tags. Failures wrap domain.ErrInvalidInput.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidInput)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%s: %w", strings.Join(msgs, ", "), domain.ErrInvalidInput)
}

// ValidateVar checks a single value against a tag expression.
func ValidateVar(value interface{}, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return fmt.Errorf("value failed %s: %w", tag, domain.ErrInvalidInput)
	}
	return nil
}

var phoneStrip = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips separators and adds a leading plus to bare digits.
// The result still needs e164 validation.
func NormalizePhone(s string) string {
	p := phoneStrip.Replace(strings.TrimSpace(s))
	if p != "" && p[0] != '+' {
		p = "+" + p
	}
	return p
}

// ValidatePhone normalizes s and checks it is an E.164 number.
func ValidatePhone(s string) (string, error) {
	p := NormalizePhone(s)
	if err := ValidateVar(p, "required,e164"); err != nil {
		return "", fmt.Errorf("phone %q: %w", s, domain.ErrInvalidInput)
	}
	return p, nil
}
