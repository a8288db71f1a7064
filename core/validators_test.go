package core

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"HobbsStart", "hobbs_start"},
		{"Minutes", "minutes"},
		{"UserID", "user_id"},
		{"HTTPStatus", "http_status"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snakeCase(tt.name))
		})
	}
}

func TestInitValidators_translations(t *testing.T) {
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	InitValidators(validate, translator)

	data := struct {
		Code       string `json:"code" validate:"required,alphanum_"`
		Currency   string `json:"currency" validate:"currency"`
		HobbsStart int    `json:"hobbs_start"`
		HobbsEnd   int    `json:"hobbs_end" validate:"gtfield=HobbsStart"`
	}{Currency: "usd", HobbsStart: 90, HobbsEnd: 60}

	err := validate.Struct(data)
	verrs, ok := err.(validator.ValidationErrors)
	require.True(t, ok, "got %v", err)
	got := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		got[fe.Field()] = fe.Translate(translator)
	}
	assert.Equal(t, map[string]string{
		"code":      requiredText,
		"currency":  currencyText,
		"hobbs_end": "hobbs_end must be greater than hobbs_start",
	}, got)
}
