package gateway

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct reports the first failed rule as a *ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	field := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s is required", field)}
	case "min":
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s must be at least %s characters", field, fe.Param())}
	default:
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("%s is invalid", field)}
	}
}

// CheckAvatar validates an avatar image held in memory and returns its sniffed MIME type.
func CheckAvatar(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &ValidationError{Field: profile.AvatarFormField, Message: "avatar file is empty"}
	}
	if len(data) > profile.MaxAvatarSize {
		msg := fmt.Sprintf("file too large: %s (maximum is %s)",
			humanize.IBytes(uint64(len(data))), humanize.IBytes(profile.MaxAvatarSize))
		return "", &ValidationError{Field: profile.AvatarFormField, Message: msg}
	}

	detected := mimetype.Detect(data)
	for _, allowed := range profile.AllowedAvatarTypes {
		if detected.Is(allowed) {
			return allowed, nil
		}
	}
	return "", &ValidationError{
		Field:   profile.AvatarFormField,
		Message: fmt.Sprintf("unsupported image type %s: use JPG, PNG, GIF or WebP", detected.String()),
	}
}
