package http_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/library-service/cmd/api/book"
	bookhttp "github.com/library-service/cmd/api/http"
	httpmock "github.com/library-service/cmd/api/http/mocks"
	"github.com/matryer/is"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/mock/gomock"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const bookIDHex = "64b7f0c2a1b2c3d4e5f60718"

var fixedTime = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*http.Server, *httpmock.MockServiceAPI) {
	ctrl := gomock.NewController(t)
	mockAPI := httpmock.NewMockServiceAPI(ctrl)
	bookHandler := bookhttp.NewBookHandler(mockAPI, time.Second)

	server := bookhttp.NewServer(bookhttp.ServerConfig{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:5173"},
	}, bookHandler)
	return server, mockAPI
}

func serve(server *http.Server, method, target, body string) (*http.Response, string) {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	response := httptest.NewRecorder()

	server.Handler.ServeHTTP(response, request)

	result := response.Result()
	raw, _ := io.ReadAll(result.Body)
	return result, strings.TrimSpace(string(raw))
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var decoded map[string]any
	err := json.Unmarshal([]byte(body), &decoded)
	if err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	return decoded
}

func storedBook(t *testing.T) book.Book {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(bookIDHex)
	if err != nil {
		t.Fatal(err)
	}
	return book.Book{
		ID:        id,
		Title:     "Dune",
		Author:    "Frank Herbert",
		Genre:     book.GenreScience,
		ISBN:      "111",
		Copies:    3,
		Available: true,
		CreatedAt: fixedTime,
		UpdatedAt: fixedTime,
	}
}

const storedBookJSON = `{"_id":"` + bookIDHex + `","title":"Dune","author":"Frank Herbert","genre":"SCIENCE","isbn":"111","description":"","copies":3,"available":true,"createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}`

func TestCreateBook(t *testing.T) {
	server, mockAPI := newServer(t)

	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)

		bookToCreate := `{
			"title": "Dune",
			"author": "Frank Herbert",
			"genre": "SCIENCE",
			"isbn": "111",
			"copies": 3
		}`
		reqBook := book.CreateBookRequest{
			Title:  "Dune",
			Author: "Frank Herbert",
			Genre:  book.GenreScience,
			ISBN:   "111",
			Copies: toPointer(3),
		}
		expectedJSONresponse := `{"success":true,"message":"Book created successfully","data":` + storedBookJSON + `}`

		mockAPI.EXPECT().CreateBook(gomock.Any(), reqBook).Return(storedBook(t), nil)

		response, body := serve(server, http.MethodPost, "/api/books", bookToCreate)

		is.Equal(response.StatusCode, 201)
		is.Equal(body, expectedJSONresponse)
	})

	t.Run("expected invalid json error", func(t *testing.T) {
		is := is.New(t)

		invalidBookToCreate := `{
				"title": "test with missing coma after copies",
				"copies": 3
				"isbn": "123"
			}`

		response, body := serve(server, http.MethodPost, "/api/books", invalidBookToCreate)

		is.Equal(response.StatusCode, 400)
		decoded := decode(t, body)
		is.Equal(decoded["success"], false)
		is.Equal(decoded["message"], "Invalid JSON")
		is.Equal(decoded["error"].(map[string]any)["error_code"], float64(102))
	})

	t.Run("expected validation error for each rejected field", func(t *testing.T) {
		is := is.New(t)

		validationErr := book.ValidationError{Errors: map[string]book.FieldError{
			"copies": {
				Message: "Path `copies` (-1) is less than minimum allowed value (0).",
				Kind:    "min",
				Path:    "copies",
				Value:   -1,
			},
		}}
		expectedJSONresponse := "{\"success\":false,\"message\":\"Validation failed\",\"error\":{\"name\":\"ValidationError\",\"errors\":{\"copies\":{\"message\":\"Path `copies` (-1) is less than minimum allowed value (0).\",\"kind\":\"min\",\"path\":\"copies\",\"value\":-1}}}}"

		mockAPI.EXPECT().CreateBook(gomock.Any(), gomock.Any()).Return(book.Book{}, fmt.Errorf("creating book: %w", validationErr))

		response, body := serve(server, http.MethodPost, "/api/books", `{"title":"Dune","copies":-1}`)

		is.Equal(response.StatusCode, 400)
		is.Equal(body, expectedJSONresponse)
	})

	t.Run("expected duplicate isbn error", func(t *testing.T) {
		is := is.New(t)

		expectedJSONresponse := `{"success":false,"message":"Duplicate entry","error":"A book with the ISBN '111' already exists."}`

		mockAPI.EXPECT().CreateBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("storing book on db: %w", book.DuplicateKeyError{Field: "isbn", Value: "111"}))

		response, body := serve(server, http.MethodPost, "/api/books", `{"isbn":"111"}`)

		is.Equal(response.StatusCode, 400)
		is.Equal(body, expectedJSONresponse)
	})

	t.Run("expected context timeout error", func(t *testing.T) {
		is := is.New(t)

		expectedJSONresponse := `{"success":false,"message":"Request timeout","error":{"error_code":109,"error_message":"error from context: context deadline exceeded"}}`

		mockAPI.EXPECT().CreateBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("creating book: %w", context.DeadlineExceeded))

		response, body := serve(server, http.MethodPost, "/api/books", `{"isbn":"111"}`)

		is.Equal(response.StatusCode, 504)
		is.Equal(body, expectedJSONresponse)
	})

	t.Run("expected context canceled error", func(t *testing.T) {
		is := is.New(t)

		expectedJSONresponse := `{"success":false,"message":"Request timeout","error":{"error_code":109,"error_message":"error from context: context canceled"}}`

		mockAPI.EXPECT().CreateBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("creating book: %w", context.Canceled))

		response, body := serve(server, http.MethodPost, "/api/books", `{"isbn":"111"}`)

		is.Equal(response.StatusCode, 504)
		is.Equal(body, expectedJSONresponse)
	})

	t.Run("unknown errors are not echoed", func(t *testing.T) {
		is := is.New(t)

		expectedJSONresponse := `{"success":false,"message":"Something went wrong","error":{"name":"Error","message":"Unknown error"}}`

		mockAPI.EXPECT().CreateBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("storing book on db: connection refused"))

		response, body := serve(server, http.MethodPost, "/api/books", `{"isbn":"111"}`)

		is.Equal(response.StatusCode, 500)
		is.Equal(body, expectedJSONresponse)
	})
}

func TestGetBook(t *testing.T) {
	server, mockAPI := newServer(t)

	t.Run("returns the book", func(t *testing.T) {
		is := is.New(t)

		b := storedBook(t)
		mockAPI.EXPECT().GetBook(gomock.Any(), b.ID).Return(b, nil)

		response, body := serve(server, http.MethodGet, "/api/books/"+bookIDHex, "")

		is.Equal(response.StatusCode, 200)
		is.Equal(body, `{"success":true,"message":"Book retrieved successfully","data":`+storedBookJSON+`}`)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().GetBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("searching by ID: %w", book.ErrResponseBookNotFound))

		response, body := serve(server, http.MethodGet, "/api/books/"+bookIDHex, "")

		is.Equal(response.StatusCode, 404)
		is.Equal(body, `{"success":false,"message":"Book not found","error":{"error_code":101,"error_message":"book not found"}}`)
	})

	t.Run("expected cast error for a malformed id", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodGet, "/api/books/abc", "")

		is.Equal(response.StatusCode, 400)
		decoded := decode(t, body)
		is.Equal(decoded["message"], "Invalid ID format")
		castErr := decoded["error"].(map[string]any)
		is.Equal(castErr["name"], "CastError")
		is.Equal(castErr["value"], "abc")
		is.Equal(castErr["reason"], "Id must be a 24-character hexadecimal string.")
	})

	t.Run("expected method not allowed", func(t *testing.T) {
		is := is.New(t)

		response, _ := serve(server, http.MethodPatch, "/api/books/"+bookIDHex, "")

		is.Equal(response.StatusCode, 405)
	})
}

func TestListBooks(t *testing.T) {
	server, mockAPI := newServer(t)

	t.Run("applies the default listing parameters", func(t *testing.T) {
		is := is.New(t)

		expectedParams := book.ListBooksRequest{
			SortBy:        "createdAt",
			SortDirection: "desc",
			Limit:         10,
		}
		mockAPI.EXPECT().ListBooks(gomock.Any(), expectedParams).Return([]book.Book{storedBook(t)}, nil)

		response, body := serve(server, http.MethodGet, "/api/books", "")

		is.Equal(response.StatusCode, 200)
		is.Equal(body, `{"success":true,"message":"Books retrieved successfully","data":[`+storedBookJSON+`]}`)
	})

	t.Run("passes filter, availability, sorting and limit along", func(t *testing.T) {
		is := is.New(t)

		expectedParams := book.ListBooksRequest{
			Genre:         book.GenreFantasy,
			Available:     toPointer(false),
			SortBy:        "title",
			SortDirection: "asc",
			Limit:         5,
		}
		mockAPI.EXPECT().ListBooks(gomock.Any(), expectedParams).Return([]book.Book{}, nil)

		response, body := serve(server, http.MethodGet, "/api/books?filter=FANTASY&available=false&sortBy=title&sort=asc&limit=5", "")

		is.Equal(response.StatusCode, 200)
		is.Equal(body, `{"success":true,"message":"Books retrieved successfully","data":[]}`)
	})

	t.Run("any sort other than asc is descending", func(t *testing.T) {
		is := is.New(t)

		expectedParams := book.ListBooksRequest{
			SortBy:        "pages",
			SortDirection: "desc",
			Limit:         0,
		}
		mockAPI.EXPECT().ListBooks(gomock.Any(), expectedParams).Return(nil, nil)

		response, body := serve(server, http.MethodGet, "/api/books?sortBy=pages&sort=upwards&limit=0", "")

		is.Equal(response.StatusCode, 200)
		is.Equal(body, `{"success":true,"message":"Books retrieved successfully","data":[]}`)
	})

	t.Run("expected invalid limit error", func(t *testing.T) {
		is := is.New(t)

		for _, limit := range []string{"-1", "ten"} {
			response, body := serve(server, http.MethodGet, "/api/books?limit="+limit, "")

			is.Equal(response.StatusCode, 400)
			is.Equal(body, `{"success":false,"message":"Invalid request","error":{"error_code":104,"error_message":"query parameter 'limit' must be an int greater than or equal to 0."}}`)
		}
	})

	t.Run("expected invalid available error", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodGet, "/api/books?available=yes", "")

		is.Equal(response.StatusCode, 400)
		is.Equal(body, `{"success":false,"message":"Invalid request","error":{"error_code":105,"error_message":"query parameter 'available' must be true or false."}}`)
	})
}

func TestUpdateBook(t *testing.T) {
	server, mockAPI := newServer(t)

	t.Run("updates only the fields present in the entry", func(t *testing.T) {
		is := is.New(t)

		b := storedBook(t)
		b.Copies = 0
		b.Available = false
		expectedReq := book.UpdateBookRequest{
			ID:        b.ID,
			Copies:    toPointer(0),
			Available: toPointer(true),
		}
		mockAPI.EXPECT().UpdateBook(gomock.Any(), expectedReq).Return(b, nil)

		response, body := serve(server, http.MethodPut, "/api/books/"+bookIDHex, `{"copies":0,"available":true}`)

		is.Equal(response.StatusCode, 200)
		decoded := decode(t, body)
		is.Equal(decoded["message"], "Book updated successfully")
		data := decoded["data"].(map[string]any)
		is.Equal(data["copies"], float64(0))
		is.Equal(data["available"], false)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().UpdateBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("updating book: %w", book.ErrResponseBookNotFound))

		response, _ := serve(server, http.MethodPut, "/api/books/"+bookIDHex, `{"title":"New"}`)

		is.Equal(response.StatusCode, 404)
	})

	t.Run("expected duplicate isbn error", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().UpdateBook(gomock.Any(), gomock.Any()).
			Return(book.Book{}, fmt.Errorf("updating book: %w", book.DuplicateKeyError{Field: "isbn", Value: "222"}))

		response, body := serve(server, http.MethodPut, "/api/books/"+bookIDHex, `{"isbn":"222"}`)

		is.Equal(response.StatusCode, 400)
		is.Equal(body, `{"success":false,"message":"Duplicate entry","error":"A book with the ISBN '222' already exists."}`)
	})

	t.Run("expected cast error before reading the body", func(t *testing.T) {
		is := is.New(t)

		response, _ := serve(server, http.MethodPut, "/api/books/123", `{"title":"New"}`)

		is.Equal(response.StatusCode, 400)
	})
}

func TestDeleteBook(t *testing.T) {
	server, mockAPI := newServer(t)

	t.Run("deletes and answers with null data", func(t *testing.T) {
		is := is.New(t)

		b := storedBook(t)
		mockAPI.EXPECT().DeleteBook(gomock.Any(), b.ID).Return(nil)

		response, body := serve(server, http.MethodDelete, "/api/books/"+bookIDHex, "")

		is.Equal(response.StatusCode, 200)
		is.Equal(body, `{"success":true,"message":"Book deleted successfully","data":null}`)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().DeleteBook(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("deleting book: %w", book.ErrResponseBookNotFound))

		response, _ := serve(server, http.MethodDelete, "/api/books/"+bookIDHex, "")

		is.Equal(response.StatusCode, 404)
	})

	t.Run("expected cast error for a malformed id", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodDelete, "/api/books/not-an-id", "")

		is.Equal(response.StatusCode, 400)
		decoded := decode(t, body)
		is.Equal(decoded["message"], "Invalid ID format")
		castErr := decoded["error"].(map[string]any)
		is.Equal(castErr["name"], "CastError")
		is.Equal(castErr["value"], "not-an-id")
	})
}

func TestBorrowBook(t *testing.T) {
	server, mockAPI := newServer(t)
	bookID, _ := primitive.ObjectIDFromHex(bookIDHex)
	borrowID, _ := primitive.ObjectIDFromHex("64b7f0c2a1b2c3d4e5f60719")

	t.Run("borrows copies without errors", func(t *testing.T) {
		is := is.New(t)

		expectedReq := book.BorrowBookRequest{
			BookID:   bookID,
			Quantity: 2,
			DueDate:  fixedTime,
		}
		borrowRecord := book.Borrow{
			ID:        borrowID,
			BookID:    bookID,
			Quantity:  2,
			DueDate:   fixedTime,
			CreatedAt: fixedTime,
			UpdatedAt: fixedTime,
		}
		expectedJSONresponse := `{"success":true,"message":"Book borrowed successfully","data":{"_id":"64b7f0c2a1b2c3d4e5f60719","book":"` + bookIDHex + `","quantity":2,"dueDate":"2025-01-01T00:00:00Z","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}}`

		mockAPI.EXPECT().BorrowBook(gomock.Any(), expectedReq).Return(borrowRecord, nil)

		response, body := serve(server, http.MethodPost, "/api/borrow", `{"book":"`+bookIDHex+`","quantity":2,"dueDate":"2025-01-01"}`)

		is.Equal(response.StatusCode, 201)
		is.Equal(body, expectedJSONresponse)
	})

	t.Run("accepts a full timestamp as due date", func(t *testing.T) {
		is := is.New(t)

		expectedReq := book.BorrowBookRequest{
			BookID:   bookID,
			Quantity: 1,
			DueDate:  time.Date(2025, time.January, 1, 12, 30, 0, 0, time.UTC),
		}
		mockAPI.EXPECT().BorrowBook(gomock.Any(), expectedReq).Return(book.Borrow{ID: borrowID, BookID: bookID}, nil)

		response, _ := serve(server, http.MethodPost, "/api/borrow", `{"book":"`+bookIDHex+`","quantity":1,"dueDate":"2025-01-01T14:30:00+02:00"}`)

		is.Equal(response.StatusCode, 201)
	})

	t.Run("expected missing fields error", func(t *testing.T) {
		is := is.New(t)

		expectedJSONresponse := `{"success":false,"message":"Missing required fields","error":"book, quantity, and dueDate are required"}`

		for _, entry := range []string{
			`{"quantity":1,"dueDate":"2025-01-01"}`,
			`{"book":"` + bookIDHex + `","dueDate":"2025-01-01"}`,
			`{"book":"` + bookIDHex + `","quantity":0,"dueDate":"2025-01-01"}`,
			`{"book":"` + bookIDHex + `","quantity":1}`,
		} {
			response, body := serve(server, http.MethodPost, "/api/borrow", entry)

			is.Equal(response.StatusCode, 400)
			is.Equal(body, expectedJSONresponse)
		}
	})

	t.Run("expected cast error for a malformed book id", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodPost, "/api/borrow", `{"book":"nope","quantity":1,"dueDate":"2025-01-01"}`)

		is.Equal(response.StatusCode, 400)
		is.Equal(decode(t, body)["message"], "Invalid ID format")
	})

	t.Run("expected validation error for an unreadable due date", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodPost, "/api/borrow", `{"book":"`+bookIDHex+`","quantity":1,"dueDate":"next week"}`)

		is.Equal(response.StatusCode, 400)
		decoded := decode(t, body)
		is.Equal(decoded["message"], "Validation failed")
		fieldErr := decoded["error"].(map[string]any)["errors"].(map[string]any)["dueDate"].(map[string]any)
		is.Equal(fieldErr["kind"], "date")
		is.Equal(fieldErr["value"], "next week")
	})

	t.Run("expected insufficient stock error", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().BorrowBook(gomock.Any(), gomock.Any()).
			Return(book.Borrow{}, fmt.Errorf("borrowing book: %w", book.ErrResponseInsufficientStock))

		response, body := serve(server, http.MethodPost, "/api/borrow", `{"book":"`+bookIDHex+`","quantity":5,"dueDate":"2025-01-01"}`)

		is.Equal(response.StatusCode, 400)
		is.Equal(body, `{"success":false,"message":"Not enough copies available","error":{"error_code":113,"error_message":"not enough copies available"}}`)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().BorrowBook(gomock.Any(), gomock.Any()).
			Return(book.Borrow{}, fmt.Errorf("borrowing book: %w", book.ErrResponseBookNotFound))

		response, _ := serve(server, http.MethodPost, "/api/borrow", `{"book":"`+bookIDHex+`","quantity":1,"dueDate":"2025-01-01"}`)

		is.Equal(response.StatusCode, 404)
	})
}

func TestListBorrows(t *testing.T) {
	server, mockAPI := newServer(t)
	bookID, _ := primitive.ObjectIDFromHex(bookIDHex)

	t.Run("lists the borrows of a book", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().ListBorrows(gomock.Any(), bookID).Return([]book.Borrow{
			{ID: primitive.NewObjectID(), BookID: bookID, Quantity: 1, DueDate: fixedTime},
			{ID: primitive.NewObjectID(), BookID: bookID, Quantity: 2, DueDate: fixedTime},
		}, nil)

		response, body := serve(server, http.MethodGet, "/api/borrow?book="+bookIDHex, "")

		is.Equal(response.StatusCode, 200)
		data := decode(t, body)["data"].([]any)
		is.Equal(len(data), 2)
		is.Equal(data[1].(map[string]any)["quantity"], float64(2))
	})

	t.Run("expected blank query error", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodGet, "/api/borrow", "")

		is.Equal(response.StatusCode, 400)
		is.Equal(body, `{"success":false,"message":"Invalid request","error":{"error_code":117,"error_message":"query parameter 'book' must be filled correctly."}}`)
	})
}

func TestServer(t *testing.T) {
	server, mockAPI := newServer(t)

	t.Run("answers the root with the banner", func(t *testing.T) {
		is := is.New(t)

		response, body := serve(server, http.MethodGet, "/", "")

		is.Equal(response.StatusCode, 200)
		is.Equal(body, "Library Management API Server")
	})

	t.Run("unknown paths are not found", func(t *testing.T) {
		is := is.New(t)

		response, _ := serve(server, http.MethodGet, "/api/authors", "")

		is.Equal(response.StatusCode, 404)
	})

	t.Run("ping answers with no content", func(t *testing.T) {
		is := is.New(t)

		response, _ := serve(server, http.MethodGet, "/ping", "")

		is.Equal(response.StatusCode, 204)
	})

	t.Run("generates a request id", func(t *testing.T) {
		is := is.New(t)

		response, _ := serve(server, http.MethodGet, "/ping", "")

		is.True(response.Header.Get("X-Request-ID") != "")
	})

	t.Run("keeps the caller's request id", func(t *testing.T) {
		is := is.New(t)

		request := httptest.NewRequest(http.MethodGet, "/ping", nil)
		request.Header.Set("X-Request-ID", "req-123")
		response := httptest.NewRecorder()

		server.Handler.ServeHTTP(response, request)

		is.Equal(response.Result().Header.Get("X-Request-ID"), "req-123")
	})

	t.Run("answers CORS preflight for allowed origins", func(t *testing.T) {
		is := is.New(t)

		request := httptest.NewRequest(http.MethodOptions, "/api/books", nil)
		request.Header.Set("Origin", "http://localhost:5173")
		request.Header.Set("Access-Control-Request-Method", http.MethodPost)
		request.Header.Set("Access-Control-Request-Headers", "content-type")
		response := httptest.NewRecorder()

		server.Handler.ServeHTTP(response, request)

		result := response.Result()
		is.Equal(result.StatusCode, 200)
		is.Equal(result.Header.Get("Access-Control-Allow-Origin"), "http://localhost:5173")
		is.Equal(result.Header.Get("Access-Control-Allow-Credentials"), "true")
		is.Equal(result.Header.Get("Access-Control-Allow-Headers"), "content-type")
	})

	t.Run("ignores origins that are not allowed", func(t *testing.T) {
		is := is.New(t)

		request := httptest.NewRequest(http.MethodGet, "/ping", nil)
		request.Header.Set("Origin", "http://evil.example")
		response := httptest.NewRecorder()

		server.Handler.ServeHTTP(response, request)

		is.Equal(response.Result().Header.Get("Access-Control-Allow-Origin"), "")
	})

	t.Run("continues the caller's trace", func(t *testing.T) {
		is := is.New(t)

		previous := otel.GetTextMapPropagator()
		otel.SetTextMapPropagator(propagation.TraceContext{})
		t.Cleanup(func() {
			otel.SetTextMapPropagator(previous)
		})

		b := storedBook(t)
		var traceID string
		mockAPI.EXPECT().GetBook(gomock.Any(), b.ID).DoAndReturn(func(ctx context.Context, id primitive.ObjectID) (book.Book, error) {
			traceID = trace.SpanContextFromContext(ctx).TraceID().String()
			return b, nil
		})

		request := httptest.NewRequest(http.MethodGet, "/api/books/"+bookIDHex, nil)
		request.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		response := httptest.NewRecorder()

		server.Handler.ServeHTTP(response, request)

		is.Equal(response.Result().StatusCode, 200)
		is.Equal(traceID, "4bf92f3577b34da6a3ce929d0e0e4736")
	})

	t.Run("recovers from a panicking handler", func(t *testing.T) {
		is := is.New(t)

		mockAPI.EXPECT().GetBook(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, id primitive.ObjectID) (book.Book, error) {
			panic("boom")
		})

		response, body := serve(server, http.MethodGet, "/api/books/"+bookIDHex, "")

		is.Equal(response.StatusCode, 500)
		is.Equal(body, `{"success":false,"message":"Something went wrong","error":{"name":"Error","message":"Unknown error"}}`)
	})
}

func toPointer[T any](v T) *T {
	return &v
}
