package utils

import "github.com/go-playground/validator/v10"

// ProcessValidationErrors flattens binding validation failures into a
// field -> failed-constraint map for API error responses. Non-validation
// errors produce an empty map.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
