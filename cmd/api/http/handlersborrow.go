package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/library-service/cmd/api/book"
)

/* Addresses a call to "/api/borrow" according to the requested action.  */
func (h *BookHandler) borrow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	method := r.Method
	switch method {
	case http.MethodPost:
		h.borrowBook(w, r)
		return
	case http.MethodGet:
		h.listBorrows(w, r)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
}

type BorrowEntry struct {
	Book     string `json:"book"`
	Quantity int    `json:"quantity"`
	DueDate  string `json:"dueDate"`
}

/* Validates the entry, then lends the copies. */
func (h *BookHandler) borrowBook(w http.ResponseWriter, r *http.Request) {
	var borrowEntry BorrowEntry
	err := json.NewDecoder(r.Body).Decode(&borrowEntry)
	if err != nil {
		invalidJSON(w, r, err)
		return
	}

	err = FilledBorrowFields(borrowEntry) //Verify if all entry fields are filled.
	if err != nil {
		handleError(err, w, r)
		return
	}

	bookID, err := book.ParseID(borrowEntry.Book)
	if err != nil {
		handleError(err, w, r)
		return
	}

	dueDate, err := parseDueDate(borrowEntry.DueDate)
	if err != nil {
		handleError(err, w, r)
		return
	}

	borrowRecord, err := h.bookService.BorrowBook(r.Context(), book.BorrowBookRequest{
		BookID:   bookID,
		Quantity: borrowEntry.Quantity,
		DueDate:  dueDate,
	})
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseSuccess(w, http.StatusCreated, "Book borrowed successfully", borrowToResponse(borrowRecord))
}

/* Returns every borrow recorded for the book in the "book" query parameter. */
func (h *BookHandler) listBorrows(w http.ResponseWriter, r *http.Request) {
	bookIDStr := r.URL.Query().Get("book")
	if bookIDStr == "" {
		handleError(book.ErrResponseBorrowQueryBlankFields, w, r)
		return
	}

	bookID, err := book.ParseID(bookIDStr)
	if err != nil {
		handleError(err, w, r)
		return
	}

	borrows, err := h.bookService.ListBorrows(r.Context(), bookID)
	if err != nil {
		handleError(err, w, r)
		return
	}

	results := make([]BorrowResponse, 0, len(borrows))
	for _, b := range borrows {
		results = append(results, borrowToResponse(b))
	}
	responseSuccess(w, http.StatusOK, "Borrows retrieved successfully", results)
}

/* Verifies if all borrow entry fields are filled. A zero quantity counts as missing. */
func FilledBorrowFields(borrowEntry BorrowEntry) error {
	if borrowEntry.Book == "" {
		return book.ErrResponseBorrowEntryBlankFields
	}
	if borrowEntry.Quantity == 0 {
		return book.ErrResponseBorrowEntryBlankFields
	}
	if borrowEntry.DueDate == "" {
		return book.ErrResponseBorrowEntryBlankFields
	}

	return nil
}

/* Accepts a plain date or a full RFC 3339 timestamp. */
func parseDueDate(value string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		dueDate, err := time.Parse(layout, value)
		if err == nil {
			return dueDate.UTC(), nil
		}
	}

	return time.Time{}, book.ValidationError{Errors: map[string]book.FieldError{
		"dueDate": {
			Message: fmt.Sprintf("Cast to date failed for value %q (type string) at path \"dueDate\"", value),
			Kind:    "date",
			Path:    "dueDate",
			Value:   value,
		},
	}}
}

type BorrowResponse struct {
	ID        string    `json:"_id"`
	Book      string    `json:"book"`
	Quantity  int       `json:"quantity"`
	DueDate   time.Time `json:"dueDate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

/*Copy the fields of a borrow object to an http layer struct with json tags*/
func borrowToResponse(b book.Borrow) BorrowResponse {
	return BorrowResponse{
		ID:        b.ID.Hex(),
		Book:      b.BookID.Hex(),
		Quantity:  b.Quantity,
		DueDate:   b.DueDate,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}
