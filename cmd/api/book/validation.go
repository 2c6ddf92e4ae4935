package book

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CreateBookRequest struct {
	Title       string
	Author      string
	Genre       Genre
	ISBN        string
	Description string
	Copies      *int
	Available   *bool
}

// UpdateBookRequest carries a partial update: nil fields keep the stored value.
type UpdateBookRequest struct {
	ID          primitive.ObjectID
	Title       *string
	Author      *string
	Genre       *Genre
	ISBN        *string
	Description *string
	Copies      *int
	Available   *bool
}

type ListBooksRequest struct {
	Genre         Genre
	Available     *bool
	SortBy        string
	SortDirection string
	Limit         int
}

type BorrowBookRequest struct {
	BookID   primitive.ObjectID
	Quantity int
	DueDate  time.Time
}

// bookRules is the shape every stored book must satisfy.
type bookRules struct {
	Title  string `path:"title" validate:"required"`
	Author string `path:"author" validate:"required"`
	Genre  Genre  `path:"genre" validate:"required,oneof=FICTION NON_FICTION SCIENCE HISTORY BIOGRAPHY FANTASY"`
	ISBN   string `path:"isbn" validate:"required"`
	Copies *int   `path:"copies" validate:"required,min=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("path")
	})
	return v
}

/* Checks a book against the storage rules and collects every failing field. */
func validateBook(rules bookRules) error {
	err := validate.Struct(rules)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating book: %w", err)
	}

	vErr := ValidationError{Errors: make(map[string]FieldError, len(fieldErrs))}
	for _, fe := range fieldErrs {
		vErr.Errors[fe.Field()] = toFieldError(fe)
	}
	return vErr
}

func toFieldError(fe validator.FieldError) FieldError {
	path := fe.Field()
	value := fe.Value()

	switch fe.Tag() {
	case "required":
		if rv := reflect.ValueOf(value); !rv.IsValid() || rv.Kind() != reflect.String {
			value = nil
		}
		return FieldError{
			Message: fmt.Sprintf("Path `%s` is required.", path),
			Kind:    "required",
			Path:    path,
			Value:   value,
		}
	case "min":
		return FieldError{
			Message: fmt.Sprintf("Path `%s` (%v) is less than minimum allowed value (%s).", path, value, fe.Param()),
			Kind:    "min",
			Path:    path,
			Value:   value,
		}
	case "oneof":
		return FieldError{
			Message: fmt.Sprintf("`%v` is not a valid enum value for path `%s`.", value, path),
			Kind:    "enum",
			Path:    path,
			Value:   value,
		}
	default:
		return FieldError{
			Message: fmt.Sprintf("Path `%s` failed on the '%s' rule.", path, fe.Tag()),
			Kind:    fe.Tag(),
			Path:    path,
			Value:   value,
		}
	}
}

func quantityError(quantity int) ValidationError {
	return ValidationError{Errors: map[string]FieldError{
		"quantity": {
			Message: fmt.Sprintf("Path `quantity` (%d) is less than minimum allowed value (1).", quantity),
			Kind:    "min",
			Path:    "quantity",
			Value:   quantity,
		},
	}}
}

/* Builds the book to be stored from a creation request. Text fields are trimmed. */
func bookFromCreateReq(req CreateBookRequest) (Book, error) {
	b := Book{
		Title:       strings.TrimSpace(req.Title),
		Author:      strings.TrimSpace(req.Author),
		Genre:       Genre(strings.TrimSpace(string(req.Genre))),
		ISBN:        strings.TrimSpace(req.ISBN),
		Description: strings.TrimSpace(req.Description),
		Available:   true,
	}
	if req.Copies != nil {
		b.Copies = *req.Copies
	}
	if req.Available != nil {
		b.Available = *req.Available
	}

	err := validateBook(bookRules{
		Title:  b.Title,
		Author: b.Author,
		Genre:  b.Genre,
		ISBN:   b.ISBN,
		Copies: req.Copies,
	})
	if err != nil {
		return Book{}, err
	}

	return ApplyAvailabilityRule(b), nil
}

// mergeUpdate lays the requested changes over the stored book. A new copies
// value recomputes availability and wins over an explicit available flag.
func mergeUpdate(stored Book, req UpdateBookRequest) (Book, error) {
	merged := stored
	if req.Title != nil {
		merged.Title = strings.TrimSpace(*req.Title)
	}
	if req.Author != nil {
		merged.Author = strings.TrimSpace(*req.Author)
	}
	if req.Genre != nil {
		merged.Genre = Genre(strings.TrimSpace(string(*req.Genre)))
	}
	if req.ISBN != nil {
		merged.ISBN = strings.TrimSpace(*req.ISBN)
	}
	if req.Description != nil {
		merged.Description = strings.TrimSpace(*req.Description)
	}
	if req.Available != nil {
		merged.Available = *req.Available
	}
	if req.Copies != nil {
		merged.Copies = *req.Copies
		merged.Available = *req.Copies > 0
	}

	copies := merged.Copies
	err := validateBook(bookRules{
		Title:  merged.Title,
		Author: merged.Author,
		Genre:  merged.Genre,
		ISBN:   merged.ISBN,
		Copies: &copies,
	})
	if err != nil {
		return Book{}, err
	}

	return ApplyAvailabilityRule(merged), nil
}
