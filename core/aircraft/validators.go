package aircraft

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/aeroschool/core"
)

var (
	registrationTag   = "registration"
	registrationText  = "registration must be 3 to 10 characters of A-Z, 0-9 or '-'"
	registrationRegex = regexp.MustCompile(`^[A-Z0-9-]{3,10}$`)
)

// InitValidators registers the aircraft validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(registrationTag, registrationValidation)
	core.RegisterCustomTranslation(validate, translator, registrationTag, registrationText)
}

func registrationValidation(fl validator.FieldLevel) bool {
	return registrationRegex.MatchString(fl.Field().String())
}
