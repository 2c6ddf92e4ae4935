package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/library-service/cmd/api/book"
	"go.mongodb.org/mongo-driver/bson/primitive"

	jsoniter "github.com/json-iterator/go"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/library-service/cmd/api/book ServiceAPI

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultListLimit = 10

type BookHandler struct {
	bookService    book.ServiceAPI
	requestTimeout time.Duration
}

func NewBookHandler(bookService book.ServiceAPI, requestTimeout time.Duration) *BookHandler {
	return &BookHandler{
		bookService:    bookService,
		requestTimeout: requestTimeout,
	}
}

/* Addresses a call to "/api/books/(expected id here)" according to the requested action.  */
func (h *BookHandler) bookById(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	method := r.Method
	switch method {
	case http.MethodGet:
		h.getBookById(w, r)
		return
	case http.MethodPut:
		h.updateBook(w, r)
		return
	case http.MethodDelete:
		h.deleteBook(w, r)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
}

/* Addresses a call to "/api/books" according to the requested action.  */
func (h *BookHandler) books(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	method := r.Method
	switch method {
	case http.MethodGet:
		h.listBooks(w, r)
		return
	case http.MethodPost:
		h.createBook(w, r)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
}

type CreateBookEntry struct {
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Genre       book.Genre `json:"genre"`
	ISBN        string     `json:"isbn"`
	Description string     `json:"description"`
	Copies      *int       `json:"copies"`
	Available   *bool      `json:"available"`
}

/* Decodes the entry, then stores it as a new book. The service validates every field. */
func (h *BookHandler) createBook(w http.ResponseWriter, r *http.Request) {
	var bookEntry CreateBookEntry
	err := json.NewDecoder(r.Body).Decode(&bookEntry) //Read the Json body and save the entry to bookEntry
	if err != nil {
		invalidJSON(w, r, err)
		return
	}

	storedBook, err := h.bookService.CreateBook(r.Context(), book.CreateBookRequest{
		Title:       bookEntry.Title,
		Author:      bookEntry.Author,
		Genre:       bookEntry.Genre,
		ISBN:        bookEntry.ISBN,
		Description: bookEntry.Description,
		Copies:      bookEntry.Copies,
		Available:   bookEntry.Available,
	})
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseSuccess(w, http.StatusCreated, "Book created successfully", bookToResponse(storedBook))
}

type UpdateBookEntry struct {
	Title       *string     `json:"title"`
	Author      *string     `json:"author"`
	Genre       *book.Genre `json:"genre"`
	ISBN        *string     `json:"isbn"`
	Description *string     `json:"description"`
	Copies      *int        `json:"copies"`
	Available   *bool       `json:"available"`
}

/* Applies the fields present in the entry to the stored book. */
func (h *BookHandler) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(r)
	if err != nil {
		handleError(err, w, r)
		return
	}

	var bookEntry UpdateBookEntry
	err = json.NewDecoder(r.Body).Decode(&bookEntry) //Read the Json body and save the entry to bookEntry
	if err != nil {
		invalidJSON(w, r, err)
		return
	}

	updatedBook, err := h.bookService.UpdateBook(r.Context(), book.UpdateBookRequest{
		ID:          id,
		Title:       bookEntry.Title,
		Author:      bookEntry.Author,
		Genre:       bookEntry.Genre,
		ISBN:        bookEntry.ISBN,
		Description: bookEntry.Description,
		Copies:      bookEntry.Copies,
		Available:   bookEntry.Available,
	})
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseSuccess(w, http.StatusOK, "Book updated successfully", bookToResponse(updatedBook))
}

func (h *BookHandler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(r)
	if err != nil {
		handleError(err, w, r)
		return
	}

	err = h.bookService.DeleteBook(r.Context(), id)
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseSuccess(w, http.StatusOK, "Book deleted successfully", nil)
}

/* Returns the book with that specific ID. */
func (h *BookHandler) getBookById(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(r)
	if err != nil {
		handleError(err, w, r)
		return
	}
	//Searching for that ID on Book Service:
	returnedBook, err := h.bookService.GetBook(r.Context(), id)
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseSuccess(w, http.StatusOK, "Book retrieved successfully", bookToResponse(returnedBook))
}

/* Returns a list of the stored books, filtered and sorted by the query. */
func (h *BookHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	params, err := extractListParams(r.URL.Query())
	if err != nil {
		handleError(err, w, r)
		return
	}

	books, err := h.bookService.ListBooks(r.Context(), params)
	if err != nil {
		handleError(err, w, r)
		return
	}

	results := make([]BookResponse, 0, len(books))
	for _, b := range books {
		results = append(results, bookToResponse(b))
	}
	responseSuccess(w, http.StatusOK, "Books retrieved successfully", results)
}

/*
Validates and prepares the listing parameters of the query.
Sort fields are not checked here, the store decides what an unknown one means.
*/
func extractListParams(query url.Values) (book.ListBooksRequest, error) {
	params := book.ListBooksRequest{
		Genre:         book.Genre(query.Get("filter")),
		SortBy:        query.Get("sortBy"),
		SortDirection: "desc",
		Limit:         defaultListLimit,
	}

	if params.SortBy == "" {
		params.SortBy = "createdAt"
	}
	if query.Get("sort") == "asc" {
		params.SortDirection = "asc"
	}

	switch query.Get("available") {
	case "":
		break
	case "true":
		params.Available = toPointer(true)
	case "false":
		params.Available = toPointer(false)
	default:
		return book.ListBooksRequest{}, book.ErrResponseQueryAvailableInvalid
	}

	limitStr := query.Get("limit")
	if limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return book.ListBooksRequest{}, book.ErrResponseQueryLimitInvalid
		}
		params.Limit = limit
	}

	return params, nil
}

/* Isolates the ID from the URL. */
func isolateId(r *http.Request) (primitive.ObjectID, error) {
	justId, _ := strings.CutPrefix(r.URL.Path, "/api/books/")
	return book.ParseID(justId)
}

type BookResponse struct {
	ID          string     `json:"_id"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Genre       book.Genre `json:"genre"`
	ISBN        string     `json:"isbn"`
	Description string     `json:"description"`
	Copies      int        `json:"copies"`
	Available   bool       `json:"available"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

/*Copy the fields of a book object to an http layer struct with json tags*/
func bookToResponse(b book.Book) BookResponse {
	return BookResponse{
		ID:          b.ID.Hex(),
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre,
		ISBN:        b.ISBN,
		Description: b.Description,
		Copies:      b.Copies,
		Available:   b.Available,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func responseSuccess(w http.ResponseWriter, status int, message string, data any) {
	responseJSON(w, status, SuccessResponse{Success: true, Message: message, Data: data})
}

func responseFailure(w http.ResponseWriter, status int, message string, cause any) {
	responseJSON(w, status, FailureResponse{Success: false, Message: message, Error: cause})
}

/*Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Error("encoding response", "error", err)
		return
	}
}

func toPointer[T any](v T) *T {
	return &v
}
