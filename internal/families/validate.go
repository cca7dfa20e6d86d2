package families

import (
	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that understands the cpf, phone and cep tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cpf", func(fl validator.FieldLevel) bool {
		return len(Digits(fl.Field().String())) == 11
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		n := len(Digits(fl.Field().String()))
		return n >= 10 && n <= 13
	})
	_ = v.RegisterValidation("cep", func(fl validator.FieldLevel) bool {
		return len(Digits(fl.Field().String())) == 8
	})
	return v
}
