package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Validate checks the `validate` struct tags of config and returns every violation as one error.
func Validate(config interface{}) error {
	validate := validator.New()
	err := validate.Struct(config)
	if err == nil {
		return nil
	}
	LogValidationErrors(err)

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var result *multierror.Error
	for _, fieldErr := range validationErrors {
		result = multierror.Append(result, fmt.Errorf("field %s failed validation %q", stripPrefix(fieldErr.Namespace()), fieldErr.Tag()))
	}
	return result.ErrorOrNil()
}

func LogValidationErrors(err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return
	}
	for _, err := range validationErrors {
		fieldName := stripPrefix(err.Namespace())
		tag := err.Tag()
		switch tag {
		case "required":
			log.Errorf("ConfigError: Field %s is required but was not found", fieldName)
		default:
			log.Errorf("ConfigError: Field %s has invalid value %v: %s", fieldName, err.Value(), tag)
		}
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
