package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"factoid-api/internal/apierror"
)

// stringField reads an optional string attribute from a JSON object
func stringField(data map[string]any, name string) (string, error) {
	v, ok := data[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apierror.BadRequest(fmt.Sprintf("%s must be a string", name))
	}
	return s, nil
}

// validationError turns validator failures into a single BadRequest
func validationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apierror.BadRequest(err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required_without":
			messages = append(messages, fmt.Sprintf("%s is required when %s is empty", field, strings.ToLower(fe.Param())))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return apierror.BadRequest(strings.Join(messages, "; "))
}
