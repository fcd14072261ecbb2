package handler

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/karaoke-backend/internal/apperr"
    "github.com/iliyamo/karaoke-backend/internal/repository"
)

// ErrorHandler renders every error returned by a handler or middleware as
// {"error": code, "message": msg}. Internal failures are logged and their
// details withheld from the client.
func ErrorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
    return func(err error, c echo.Context) {
        if c.Response().Committed {
            return
        }

        status, body := render(err)
        var rl *apperr.RateLimitError
        if errors.As(err, &rl) {
            secs := rl.RetryAfterSeconds()
            c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
            body["retry_after"] = secs
        }
        var authn *apperr.AuthenticationError
        if errors.As(err, &authn) {
            c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
        }
        if status >= http.StatusInternalServerError {
            log.WithError(err).WithField("path", c.Path()).Error("request error")
        }

        if c.Request().Method == http.MethodHead {
            err = c.NoContent(status)
        } else {
            err = c.JSON(status, body)
        }
        if err != nil {
            log.WithError(err).Warn("write error response")
        }
    }
}

func render(err error) (int, echo.Map) {
    var he *echo.HTTPError
    switch {
    case errors.Is(err, repository.ErrEmailExists):
        return http.StatusConflict, echo.Map{"error": "email_exists", "message": "email already exists"}
    case errors.As(err, &he):
        msg := http.StatusText(he.Code)
        if s, ok := he.Message.(string); ok {
            msg = s
        }
        return he.Code, echo.Map{"error": codeForStatus(he.Code), "message": msg}
    }

    status := apperr.Status(err)
    msg := err.Error()
    var authn *apperr.AuthenticationError
    if errors.As(err, &authn) {
        msg = "authentication failed: " + authn.Reason
    }
    switch status {
    case http.StatusTooManyRequests:
        msg = "rate limit exceeded"
    case http.StatusServiceUnavailable:
        msg = "a backing service is unavailable, try again later"
    case http.StatusInternalServerError:
        msg = "internal error"
    }
    return status, echo.Map{"error": apperr.Code(err), "message": msg}
}

func codeForStatus(status int) string {
    switch status {
    case http.StatusNotFound:
        return "not_found"
    case http.StatusMethodNotAllowed:
        return "method_not_allowed"
    case http.StatusBadRequest:
        return "invalid_request"
    case http.StatusUnauthorized:
        return "unauthenticated"
    case http.StatusForbidden:
        return "forbidden"
    case http.StatusRequestEntityTooLarge:
        return "payload_too_large"
    }
    if status >= 500 {
        return "internal_error"
    }
    return "error"
}
