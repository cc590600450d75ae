package api

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"resumerag/store"
	"resumerag/types"
)

// ErrorHandler renders every error returned by a handler as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}

	apiErr := toError(err)
	if apiErr.Code >= fiber.StatusInternalServerError {
		log.Printf("[API] %s %s failed with code %d: %v", c.Method(), c.Path(), apiErr.Code, err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

func toError(err error) Error {
	var (
		apiErr   Error
		fiberErr *fiber.Error
		extErr   *types.ExtractionError
		embedErr *types.EmbeddingError
		indexErr *types.IndexError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &fiberErr):
		return NewError(fiberErr.Code, fiberErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(fiber.StatusGatewayTimeout, "request timed out")
	case errors.As(err, &extErr):
		return NewError(fiber.StatusUnprocessableEntity, extErr.Error())
	case errors.As(err, &embedErr):
		return NewError(fiber.StatusBadGateway, embedErr.Error())
	case errors.As(err, &indexErr):
		return NewError(fiber.StatusBadGateway, indexErr.Error())
	case errors.Is(err, store.ErrNotFound):
		return NewError(fiber.StatusNotFound, err.Error())
	}
	return NewError(fiber.StatusInternalServerError, "internal server error")
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrMissingFile() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "missing 'file' in the request",
	}
}

func ErrUnsupportedFile(ext string) Error {
	return Error{
		Code:    fiber.StatusUnsupportedMediaType,
		Message: fmt.Sprintf("unsupported file type %q", ext),
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
