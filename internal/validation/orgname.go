// Package validation provides input validation for organization names, admin
// emails and passwords. The same rules back the `orgname` binding tag used by
// the HTTP handlers, so request validation and direct callers agree.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	// MaxOrganizationNameLength bounds a display name.
	MaxOrganizationNameLength = 64

	// MinPasswordLength is the shortest admin password accepted at create.
	MinPasswordLength = 6

	// OrganizationNameTag is the struct tag registered with the binding validator.
	OrganizationNameTag = "orgname"
)

var orgNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _\-\.&]+$`)

// ValidateOrganizationName checks a display name against the length and
// character set rules.
func ValidateOrganizationName(name string) error {
	if name == "" {
		return errors.New("organization name is required")
	}
	if len(name) > MaxOrganizationNameLength {
		return fmt.Errorf("organization name must be at most %d characters", MaxOrganizationNameLength)
	}
	if !orgNamePattern.MatchString(name) {
		return errors.New("organization name may only contain letters, digits, spaces and _ - . &")
	}
	return nil
}

func organizationName(fl validator.FieldLevel) bool {
	return ValidateOrganizationName(fl.Field().String()) == nil
}

var registerOnce sync.Once
var registerErr error

// RegisterBindingValidators installs the custom tags on gin's default
// validator. It is safe to call more than once.
func RegisterBindingValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("binding validator is not go-playground/validator")
			return
		}
		registerErr = v.RegisterValidation(OrganizationNameTag, organizationName)
	})
	return registerErr
}
