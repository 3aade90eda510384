package web

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// firstYear is the oldest calendar year the portal still serves.
const firstYear = 2020

// Group identifiers accepted by the lessons grid.
var groups = map[string]struct{}{
	"GGG":     {},
	"GGG_A-L": {},
	"GGG_M-Z": {},
	"GGG T1":  {},
	"GGG T2":  {},
}

type lessonsPath struct {
	Course  string `uri:"course" validate:"required,alphanum"`
	Year    int    `uri:"year" validate:"calyear"`
	Ordinal int    `uri:"ordinal" validate:"min=1,max=3"`
	Group   string `uri:"group" validate:"group"`
}

type examsPath struct {
	Course  string `uri:"course" validate:"required,alphanum"`
	Year    int    `uri:"year" validate:"calyear"`
	Ordinal int    `uri:"ordinal" validate:"min=1,max=3"`
}

type lessonsQuery struct {
	Lang    string   `form:"lang" validate:"omitempty,oneof=italian english"`
	Alarms  bool     `form:"alarms"`
	Mode    string   `form:"mode" validate:"omitempty,oneof=whitelist blacklist"`
	Filters []string `form:"filters" validate:"dive,max=64"`
}

type examsQuery struct {
	Lang   string `form:"lang" validate:"omitempty,oneof=italian english"`
	Alarms bool   `form:"alarms"`
}

const defaultLang = "italian"

func langOrDefault(lang string) string {
	if lang == "" {
		return defaultLang
	}
	return lang
}

// newValidator registers the custom rules. now bounds the accepted year.
func newValidator(now func() time.Time) *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"uri", "form"} {
			if name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]; name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	_ = v.RegisterValidation("calyear", func(fl validator.FieldLevel) bool {
		y := fl.Field().Int()
		return y >= firstYear && y <= int64(now().Year())
	})
	_ = v.RegisterValidation("group", func(fl validator.FieldLevel) bool {
		_, ok := groups[fl.Field().String()]
		return ok
	})

	return v
}

// describe turns validator errors into a short client-facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
