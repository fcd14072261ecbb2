package handler

import (
    "errors"
    "fmt"
    "reflect"
    "strings"

    "github.com/go-playground/validator/v10"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
)

// RequestValidator adapts go-playground/validator to echo.Validator. The
// first failing field is reported by its JSON name.
type RequestValidator struct {
    v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
    v := validator.New()
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i any) error {
    err := rv.v.Struct(i)
    if err == nil {
        return nil
    }
    var fields validator.ValidationErrors
    if !errors.As(err, &fields) || len(fields) == 0 {
        return apperr.Invalid("body", "invalid request body")
    }
    fe := fields[0]
    return apperr.Invalid(fieldPath(fe), messageFor(fe))
}

// fieldPath drops the top-level struct name: "loginReq.context.type" -> "context.type".
func fieldPath(fe validator.FieldError) string {
    ns := fe.Namespace()
    if i := strings.IndexByte(ns, '.'); i >= 0 {
        return ns[i+1:]
    }
    return fe.Field()
}

func messageFor(fe validator.FieldError) string {
    switch fe.Tag() {
    case "required":
        return "is required"
    case "email":
        return "must be a valid email address"
    case "min":
        return fmt.Sprintf("must be at least %s characters long", fe.Param())
    case "max":
        return fmt.Sprintf("must be no longer than %s characters", fe.Param())
    case "oneof":
        return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
    }
    return "is invalid"
}
