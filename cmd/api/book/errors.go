package book

import (
	"fmt"
	"sort"
	"strings"
)

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

var ErrResponseBookNotFound = ErrResponse{101, "book not found"}
var ErrResponseEntryInvalidJSON = ErrResponse{102, "invalid json request."}
var ErrResponseQueryLimitInvalid = ErrResponse{104, "query parameter 'limit' must be an int greater than or equal to 0."}
var ErrResponseQueryAvailableInvalid = ErrResponse{105, "query parameter 'available' must be true or false."}
var ErrResponseRequestTimeout = ErrResponse{109, "error from context:"}
var ErrResponseInsufficientStock = ErrResponse{113, "not enough copies available"}
var ErrResponseBorrowEntryBlankFields = ErrResponse{116, "book, quantity, and dueDate are required"}
var ErrResponseBorrowQueryBlankFields = ErrResponse{117, "query parameter 'book' must be filled correctly."}

// FieldError describes why a single field was rejected.
type FieldError struct {
	Message string
	Kind    string
	Path    string
	Value   any
}

// ValidationError collects every rejected field of one entry, keyed by path.
type ValidationError struct {
	Errors map[string]FieldError
}

func (e ValidationError) Error() string {
	paths := make([]string, 0, len(e.Errors))
	for path := range e.Errors {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	messages := make([]string, 0, len(paths))
	for _, path := range paths {
		messages = append(messages, fmt.Sprintf("%s: %s", path, e.Errors[path].Message))
	}
	return "validation failed: " + strings.Join(messages, ", ")
}

// MalformedIDError is returned when an identifier is not a 24-character hex string.
type MalformedIDError struct {
	Value string
}

func (e MalformedIDError) Error() string {
	return fmt.Sprintf("cast to ObjectId failed for value %q", e.Value)
}

// DuplicateKeyError is returned by stores when a unique field collides.
type DuplicateKeyError struct {
	Field string
	Value string
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: %s %q already exists", e.Field, e.Value)
}
