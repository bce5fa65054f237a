package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/service"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a Validator using json tag names in messages.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Validate implements echo.Validator.  The first failing field is reported
// as a *service.ValidationError.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &service.ValidationError{Field: fe.Field(), Reason: reason}
	}
	return err
}

// bindValid decodes the body into req and validates it.
func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return &service.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	if c.Echo().Validator == nil {
		return nil
	}
	return c.Validate(req)
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

// respondError maps service errors to HTTP statuses and writes the JSON
// error body.
func respondError(c echo.Context, err error) error {
	var (
		verr    *service.ValidationError
		nf      *service.NotFoundError
		full    *service.QueueFullError
		short   *service.InsufficientCapacityError
		unavail *service.BackendUnavailableError
	)
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, echo.Map{"error": nf.Error()})
	case errors.As(err, &full):
		return c.JSON(http.StatusConflict, echo.Map{"error": full.Error(), "code": "queue_full", "type": full.Type})
	case errors.As(err, &short):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     short.Error(),
			"code":      "insufficient_capacity",
			"type":      short.Type,
			"available": short.Available,
			"requested": short.Requested,
		})
	case errors.Is(err, service.ErrStateChanged):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error(), "code": "state_changed"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.As(err, &unavail):
		c.Logger().Errorf("%v", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "backend unavailable, try again"})
	}
	c.Logger().Errorf("unhandled error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
