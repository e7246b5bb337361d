package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pikoshi/pikoshi/internal/apperror"
)

// Input rules.
const (
	MinUsernameLength = 5
	MinPasswordLength = 8
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name, which is what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("strongpassword", strongPassword); err != nil {
		panic(err) // only fails on an empty tag name
	}
	return v
}

// strongPassword requires one lowercase letter, one uppercase letter, one
// digit and one character that is none of those.
func strongPassword(fl validator.FieldLevel) bool {
	var lower, upper, digit, special bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}

type emailInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type signupInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=5,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128,strongpassword"`
}

type onboardingInput struct {
	Token    string `json:"token" validate:"required"`
	Username string `json:"username" validate:"required,min=5,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128,strongpassword"`
}

type passwordChangeInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=128,strongpassword"`
}

// check validates s and converts the first failure into a ValidationError
// naming the offending field.
func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperror.ValidationFailed("", "invalid input")
	}
	fe := fieldErrs[0]
	return apperror.ValidationFailed(fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "strongpassword":
		return "must contain a lowercase letter, an uppercase letter, a digit and a special character"
	}
	return "is invalid"
}
