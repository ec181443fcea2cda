package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("afterfield", afterField)
	return v
}

// afterField checks that an RFC 3339 timestamp is strictly after the sibling
// field named by the tag parameter, compared at the whole-second precision
// timestamps are stored with. An unparsable sibling is reported on the
// sibling itself.
func afterField(fl validator.FieldLevel) bool {
	end, err := time.Parse(time.RFC3339, fl.Field().String())
	if err != nil {
		return false
	}
	parent := fl.Parent()
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	other := parent.FieldByName(fl.Param())
	if !other.IsValid() || other.Kind() != reflect.String {
		return false
	}
	start, err := time.Parse(time.RFC3339, other.String())
	if err != nil {
		return true
	}
	return end.Truncate(time.Second).After(start.Truncate(time.Second))
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type BadRequestErrorResponse struct {
	Message string            `json:"message"`
	Details []ValidationError `json:"details"`
}

func ValidateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []ValidationError{{Field: "", Message: "Invalid value", Type: "invalid"}}
	}

	validationErrors := make([]ValidationError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Message: getErrorMsg(fe),
			Type:    fe.Tag(),
		})
	}
	return validationErrors
}

// fieldMessages holds the user-facing messages of the record, profile and
// credential forms, keyed by "<field>.<tag>".
var fieldMessages = map[string]string{
	"amount.gt":               "Amount must be positive.",
	"date.required":           "Invalid date format",
	"date.datetime":           "Invalid date format",
	"description.required":    "Description is required.",
	"description.max":         "Description too long.",
	"title.required":          "Title is required.",
	"title.max":               "Title too long.",
	"startTime.required":      "Invalid start time",
	"startTime.datetime":      "Invalid start time",
	"endTime.required":        "Invalid end time",
	"endTime.datetime":        "Invalid end time",
	"endTime.afterfield":      "End time must be after start time.",
	"email.required":          "Please enter a valid email.",
	"email.email":             "Please enter a valid email.",
	"password.required":       "Password is required.",
	"password.min":            "Password must be at least 6 characters.",
	"newPassword.required":    "New password must be at least 6 characters.",
	"newPassword.min":         "New password must be at least 6 characters.",
	"confirmPassword.eqfield": "Passwords do not match.",
}

func getErrorMsg(err validator.FieldError) string {
	if msg, ok := fieldMessages[err.Field()+"."+err.Tag()]; ok {
		return msg
	}
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "gt":
		return "Value must be greater than " + err.Param()
	case "gte":
		return "Value must be greater than or equal to " + err.Param()
	case "oneof":
		return "Value must be one of: " + err.Param()
	default:
		return "Invalid value"
	}
}

func RespondWithValidationError(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, BadRequestErrorResponse{
		Message: "Invalid request data",
		Details: validationErrors,
	})
}

func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"message": message,
	})
}
