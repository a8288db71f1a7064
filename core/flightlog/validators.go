package flightlog

import (
	"regexp"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/aeroschool/core"
)

var (
	icaoTag   = "icao"
	icaoText  = "must be a 4-letter ICAO airport code"
	icaoRegex = regexp.MustCompile(`^[A-Z]{4}$`)
)

// InitValidators registers the flight log validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(icaoTag, icaoValidation)
	core.RegisterCustomTranslation(validate, translator, icaoTag, icaoText)
}

func icaoValidation(fl validator.FieldLevel) bool {
	return icaoRegex.MatchString(fl.Field().String())
}

func cleanAirport(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
