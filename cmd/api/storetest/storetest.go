// Package storetest holds the behaviour every book.Repository implementation
// must share. Store packages run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/library-service/cmd/api/book"
	"github.com/matryer/is"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Harness wires a store into the suite. NewStore must return an empty store.
type Harness struct {
	NewStore func(t *testing.T) book.Repository
}

var ctx = context.Background()

func Run(t *testing.T, h Harness) {
	suites := []struct {
		name string
		run  func(t *testing.T, store book.Repository)
	}{
		{"CreateBook", testCreateBook},
		{"GetBookByID", testGetBookByID},
		{"ListBooks", testListBooks},
		{"UpdateBook", testUpdateBook},
		{"DeleteBook", testDeleteBook},
		{"DecrementCopies", testDecrementCopies},
		{"SetBookAvailability", testSetBookAvailability},
		{"Borrows", testBorrows},
		{"Transactions", testTransactions},
	}

	for _, suite := range suites {
		t.Run(suite.name, func(t *testing.T) {
			suite.run(t, h.NewStore(t))
		})
	}
}

// NewBook returns a valid book with a unique id and isbn.
func NewBook(genre book.Genre, copies int, createdAt time.Time) book.Book {
	id := primitive.NewObjectID()
	createdAt = createdAt.UTC().Round(time.Millisecond)
	return book.Book{
		ID:          id,
		Title:       "A new book",
		Author:      "Some author",
		Genre:       genre,
		ISBN:        "isbn-" + id.Hex(),
		Description: "",
		Copies:      copies,
		Available:   copies > 0,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func testCreateBook(t *testing.T, store book.Repository) {
	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 3, time.Now())
		b.Description = "with a description"

		newBook, err := store.CreateBook(ctx, b)
		is.NoErr(err)
		CompareBooks(is, newBook, b)

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		CompareBooks(is, fetched, b)
	})

	t.Run("a repeated isbn is a duplicate key error and keeps the first book", func(t *testing.T) {
		is := is.New(t)

		first := NewBook(book.GenreHistory, 1, time.Now())
		_, err := store.CreateBook(ctx, first)
		is.NoErr(err)

		second := NewBook(book.GenreFantasy, 7, time.Now())
		second.ISBN = first.ISBN
		_, err = store.CreateBook(ctx, second)
		var dupErr book.DuplicateKeyError
		is.True(errors.As(err, &dupErr))
		is.Equal(dupErr.Field, "isbn")
		is.Equal(dupErr.Value, first.ISBN)

		fetched, err := store.GetBookByID(ctx, first.ID)
		is.NoErr(err)
		CompareBooks(is, fetched, first)

		_, err = store.GetBookByID(ctx, second.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func testGetBookByID(t *testing.T, store book.Repository) {
	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		fetched, err := store.GetBookByID(ctx, primitive.NewObjectID())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
		is.Equal(fetched, book.Book{})
	})
}

func testListBooks(t *testing.T, store book.Repository) {
	is := is.New(t)

	base := time.Now().Add(-time.Hour)
	oldest := NewBook(book.GenreFiction, 2, base)
	oldest.Title = "B"
	middle := NewBook(book.GenreScience, 0, base.Add(time.Second))
	middle.Title = "C"
	newest := NewBook(book.GenreFiction, 5, base.Add(2*time.Second))
	newest.Title = "A"
	for _, b := range []book.Book{middle, newest, oldest} {
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)
	}

	t.Run("newest first by default", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{SortBy: "createdAt", SortDirection: "desc", Limit: 10})
		is.NoErr(err)
		is.Equal(len(books), 3)
		is.Equal(books[0].ID, newest.ID)
		is.Equal(books[1].ID, middle.ID)
		is.Equal(books[2].ID, oldest.ID)
	})

	t.Run("limit and ascending direction", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{SortBy: "createdAt", SortDirection: "asc", Limit: 2})
		is.NoErr(err)
		is.Equal(len(books), 2)
		is.Equal(books[0].ID, oldest.ID)
		is.Equal(books[1].ID, middle.ID)
	})

	t.Run("sorts by another field", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{SortBy: "title", SortDirection: "asc", Limit: 10})
		is.NoErr(err)
		is.Equal(len(books), 3)
		is.Equal(books[0].Title, "A")
		is.Equal(books[1].Title, "B")
		is.Equal(books[2].Title, "C")
	})

	t.Run("filters by genre", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{Genre: book.GenreFiction, SortBy: "createdAt", SortDirection: "desc", Limit: 10})
		is.NoErr(err)
		is.Equal(len(books), 2)
		is.Equal(books[0].ID, newest.ID)
		is.Equal(books[1].ID, oldest.ID)
	})

	t.Run("filters by availability", func(t *testing.T) {
		is := is.New(t)

		available := false
		books, err := store.ListBooks(ctx, book.ListBooksRequest{Available: &available, SortBy: "createdAt", SortDirection: "desc", Limit: 10})
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].ID, middle.ID)
	})

	t.Run("zero limit lists everything", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{SortBy: "createdAt", SortDirection: "desc"})
		is.NoErr(err)
		is.Equal(len(books), 3)
	})

	t.Run("no match is an empty list", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{Genre: book.GenreBiography, SortBy: "createdAt", SortDirection: "desc", Limit: 10})
		is.NoErr(err)
		is.True(books != nil)
		is.Equal(len(books), 0)
	})
}

func testUpdateBook(t *testing.T, store book.Repository) {
	t.Run("updates a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 3, time.Now().Add(-time.Minute))
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		b.Title = "The book is now updated"
		b.Genre = book.GenreFantasy
		b.Copies = 0
		b.Available = false
		b.UpdatedAt = time.Now().UTC().Round(time.Millisecond)

		updatedBook, err := store.UpdateBook(ctx, b)
		is.NoErr(err)
		CompareBooks(is, updatedBook, b)

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		CompareBooks(is, fetched, b)
	})

	t.Run("updating a non existing book should return a not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.UpdateBook(ctx, NewBook(book.GenreScience, 1, time.Now()))
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})

	t.Run("taking another book's isbn is a duplicate key error", func(t *testing.T) {
		is := is.New(t)

		first := NewBook(book.GenreScience, 1, time.Now())
		second := NewBook(book.GenreScience, 1, time.Now())
		_, err := store.CreateBook(ctx, first)
		is.NoErr(err)
		_, err = store.CreateBook(ctx, second)
		is.NoErr(err)

		second.ISBN = first.ISBN
		_, err = store.UpdateBook(ctx, second)
		var dupErr book.DuplicateKeyError
		is.True(errors.As(err, &dupErr))
	})
}

func testDeleteBook(t *testing.T, store book.Repository) {
	t.Run("deletes a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreBiography, 1, time.Now())
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		is.NoErr(store.DeleteBook(ctx, b.ID))

		_, err = store.GetBookByID(ctx, b.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})

	t.Run("deleting a non existing book should return a not found error", func(t *testing.T) {
		is := is.New(t)

		err := store.DeleteBook(ctx, primitive.NewObjectID())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func testDecrementCopies(t *testing.T, store book.Repository) {
	t.Run("takes copies from an available book", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 3, time.Now().Add(-time.Minute))
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		at := time.Now().UTC().Round(time.Millisecond)
		decremented, err := store.DecrementCopies(ctx, b.ID, 2, at)
		is.NoErr(err)
		is.Equal(decremented.Copies, 1)
		is.True(decremented.UpdatedAt.Equal(at))
		is.True(decremented.CreatedAt.Equal(b.CreatedAt))
	})

	t.Run("refuses more copies than stored", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 1, time.Now())
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		_, err = store.DecrementCopies(ctx, b.ID, 5, time.Now())
		is.True(errors.Is(err, book.ErrResponseInsufficientStock))

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(fetched.Copies, 1)
	})

	t.Run("refuses an unavailable book", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 4, time.Now())
		b.Available = false
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		_, err = store.DecrementCopies(ctx, b.ID, 1, time.Now())
		is.True(errors.Is(err, book.ErrResponseInsufficientStock))
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.DecrementCopies(ctx, primitive.NewObjectID(), 1, time.Now())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func testSetBookAvailability(t *testing.T, store book.Repository) {
	t.Run("changes only the flag and the update time", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 2, time.Now().Add(-time.Minute))
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		at := time.Now().UTC().Round(time.Millisecond)
		updated, err := store.SetBookAvailability(ctx, b.ID, false, at)
		is.NoErr(err)

		b.Available = false
		b.UpdatedAt = at
		CompareBooks(is, updated, b)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.SetBookAvailability(ctx, primitive.NewObjectID(), false, time.Now())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func testBorrows(t *testing.T, store book.Repository) {
	t.Run("records borrows and lists them per book", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 3, time.Now())
		other := NewBook(book.GenreScience, 3, time.Now())
		base := time.Now().UTC().Round(time.Millisecond).Add(-time.Minute)

		first := NewBorrow(b.ID, 1, base)
		second := NewBorrow(b.ID, 2, base.Add(time.Second))
		for _, br := range []book.Borrow{second, first, NewBorrow(other.ID, 1, base)} {
			created, err := store.CreateBorrow(ctx, br)
			is.NoErr(err)
			CompareBorrows(is, created, br)
		}

		borrows, err := store.ListBorrowsByBook(ctx, b.ID)
		is.NoErr(err)
		is.Equal(len(borrows), 2)
		CompareBorrows(is, borrows[0], first)
		CompareBorrows(is, borrows[1], second)
	})

	t.Run("a book without borrows has an empty list", func(t *testing.T) {
		is := is.New(t)

		borrows, err := store.ListBorrowsByBook(ctx, primitive.NewObjectID())
		is.NoErr(err)
		is.True(borrows != nil)
		is.Equal(len(borrows), 0)
	})
}

func testTransactions(t *testing.T, store book.Repository) {
	t.Run("rollback discards every write", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 3, time.Now())
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		txRepo, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)

		_, err = txRepo.DecrementCopies(ctx, b.ID, 3, time.Now())
		is.NoErr(err)
		_, err = txRepo.SetBookAvailability(ctx, b.ID, false, time.Now())
		is.NoErr(err)
		_, err = txRepo.CreateBorrow(ctx, NewBorrow(b.ID, 3, time.Now()))
		is.NoErr(err)

		is.NoErr(tx.Rollback())

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		CompareBooks(is, fetched, b)

		borrows, err := store.ListBorrowsByBook(ctx, b.ID)
		is.NoErr(err)
		is.Equal(len(borrows), 0)
	})

	t.Run("commit applies every write", func(t *testing.T) {
		is := is.New(t)

		b := NewBook(book.GenreScience, 3, time.Now())
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		txRepo, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		defer tx.Rollback()

		inside, err := txRepo.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		CompareBooks(is, inside, b)

		_, err = txRepo.DecrementCopies(ctx, b.ID, 2, time.Now())
		is.NoErr(err)
		_, err = txRepo.CreateBorrow(ctx, NewBorrow(b.ID, 2, time.Now()))
		is.NoErr(err)

		is.NoErr(tx.Commit())

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(fetched.Copies, 1)

		borrows, err := store.ListBorrowsByBook(ctx, b.ID)
		is.NoErr(err)
		is.Equal(len(borrows), 1)
	})
}

func NewBorrow(bookID primitive.ObjectID, quantity int, createdAt time.Time) book.Borrow {
	createdAt = createdAt.UTC().Round(time.Millisecond)
	return book.Borrow{
		ID:        primitive.NewObjectID(),
		BookID:    bookID,
		Quantity:  quantity,
		DueDate:   time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// CompareBooks asserts that two books are equal,
// handling time.Time values correctly.
func CompareBooks(is *is.I, a, b book.Book) {
	is.Helper()

	// Make sure we have the correct timestamps.
	is.True(a.CreatedAt.Equal(b.CreatedAt))
	is.True(a.UpdatedAt.Equal(b.UpdatedAt))

	// Overwrite to be able to compare them.
	b.CreatedAt = a.CreatedAt
	b.UpdatedAt = a.UpdatedAt

	is.Equal(a, b)
}

func CompareBorrows(is *is.I, a, b book.Borrow) {
	is.Helper()

	is.True(a.DueDate.Equal(b.DueDate))
	is.True(a.CreatedAt.Equal(b.CreatedAt))
	is.True(a.UpdatedAt.Equal(b.UpdatedAt))

	b.DueDate = a.DueDate
	b.CreatedAt = a.CreatedAt
	b.UpdatedAt = a.UpdatedAt

	is.Equal(a, b)
}
