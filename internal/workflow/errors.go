package workflow

import (
	"errors"
	"fmt"

	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

// Transient wraps a failed store call made before anything was committed.
func Transient(step string, err error, details map[string]any) *errorbank.AppError {
	return errorbank.Unavailable(fmt.Sprintf("%s failed", step),
		errorbank.WithCause(err),
		errorbank.WithDetail(errorbank.DetailStep, step),
		errorbank.WithDetails(details),
	)
}

// Partial wraps a failure after stage was committed.
func Partial(step, stage string, err error, details map[string]any) *errorbank.AppError {
	return errorbank.PartialFailure(fmt.Sprintf("%s failed after %s", step, stage),
		errorbank.WithCause(err),
		errorbank.WithDetail(errorbank.DetailStep, step),
		errorbank.WithDetail(errorbank.DetailStage, stage),
		errorbank.WithDetails(details),
	)
}

// Load classifies a failed keyed read.
func Load(entity string, id int64, err error) *errorbank.AppError {
	if errors.Is(err, store.ErrNotFound) {
		return errorbank.NotFound(fmt.Sprintf("%s %d not found", entity, id))
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Transient("load_"+entity, err, map[string]any{entity + "_id": id})
}

// Rejected reports a transition whose precondition does not hold.
func Rejected(format string, args ...any) *errorbank.AppError {
	return errorbank.Unprocessable(fmt.Sprintf(format, args...))
}

// Invalid reports malformed input.
func Invalid(format string, args ...any) *errorbank.AppError {
	return errorbank.BadRequest(fmt.Sprintf(format, args...))
}
