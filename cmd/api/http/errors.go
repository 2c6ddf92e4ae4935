package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/library-service/cmd/api/book"
)

const castErrorReason = "Id must be a 24-character hexadecimal string."

type FieldErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Value   any    `json:"value"`
}

type ValidationErrorResponse struct {
	Name   string                        `json:"name"`
	Errors map[string]FieldErrorResponse `json:"errors"`
}

type CastErrorResponse struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type UnknownErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

/* Maps every error a handler can meet to its status and failure envelope. */
func handleError(err error, w http.ResponseWriter, r *http.Request) {
	var validationErr book.ValidationError
	var castErr book.MalformedIDError
	var duplicateErr book.DuplicateKeyError
	var errR book.ErrResponse

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		ctxErr := context.DeadlineExceeded
		if errors.Is(err, context.Canceled) {
			ctxErr = context.Canceled
		}
		requestLogger(r).Warn("request ended by its context", "error", err)
		responseFailure(w, http.StatusGatewayTimeout, "Request timeout", book.ErrResponse{
			Code:    book.ErrResponseRequestTimeout.Code,
			Message: fmt.Sprintf("%s %s", book.ErrResponseRequestTimeout.Message, ctxErr),
		})

	case errors.As(err, &validationErr):
		responseFailure(w, http.StatusBadRequest, "Validation failed", validationToResponse(validationErr))

	case errors.As(err, &castErr):
		responseFailure(w, http.StatusBadRequest, "Invalid ID format", CastErrorResponse{
			Name:    "CastError",
			Value:   castErr.Value,
			Reason:  castErrorReason,
			Message: castErr.Error(),
		})

	case errors.As(err, &duplicateErr):
		responseFailure(w, http.StatusBadRequest, "Duplicate entry",
			fmt.Sprintf("A book with the ISBN '%s' already exists.", duplicateErr.Value))

	case errors.Is(err, book.ErrResponseBookNotFound):
		responseFailure(w, http.StatusNotFound, "Book not found", book.ErrResponseBookNotFound)

	case errors.Is(err, book.ErrResponseInsufficientStock):
		responseFailure(w, http.StatusBadRequest, "Not enough copies available", book.ErrResponseInsufficientStock)

	case errors.Is(err, book.ErrResponseBorrowEntryBlankFields):
		responseFailure(w, http.StatusBadRequest, "Missing required fields", book.ErrResponseBorrowEntryBlankFields.Message)

	case errors.As(err, &errR):
		responseFailure(w, http.StatusBadRequest, "Invalid request", errR)

	default:
		requestLogger(r).Error("unexpected error", "error", err)
		responseFailure(w, http.StatusInternalServerError, "Something went wrong", UnknownErrorResponse{
			Name:    "Error",
			Message: "Unknown error",
		})
	}
}

func invalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	requestLogger(r).Info("invalid json entry", "error", err)
	responseFailure(w, http.StatusBadRequest, "Invalid JSON", book.ErrResponse{
		Code:    book.ErrResponseEntryInvalidJSON.Code,
		Message: book.ErrResponseEntryInvalidJSON.Message + err.Error(),
	})
}

func validationToResponse(err book.ValidationError) ValidationErrorResponse {
	errs := make(map[string]FieldErrorResponse, len(err.Errors))
	for path, fe := range err.Errors {
		errs[path] = FieldErrorResponse{
			Message: fe.Message,
			Kind:    fe.Kind,
			Path:    fe.Path,
			Value:   fe.Value,
		}
	}
	return ValidationErrorResponse{Name: "ValidationError", Errors: errs}
}

func requestLogger(r *http.Request) *slog.Logger {
	return slog.Default().With("req_id", requestID(r.Context()))
}
