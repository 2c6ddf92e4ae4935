package database

import (
	"strings"
	"testing"

	"github.com/library-service/cmd/api/book"
	"github.com/matryer/is"
)

func TestListBooksQuery(t *testing.T) {
	t.Run("defaults to newest first without filters", func(t *testing.T) {
		is := is.New(t)

		query, args, err := listBooksQuery(book.ListBooksRequest{SortBy: "createdAt", SortDirection: "desc", Limit: 10})
		is.NoErr(err)
		is.True(strings.HasPrefix(query, `SELECT id, title, author, genre, isbn, description, copies, available, created_at, updated_at FROM "books"`))
		is.True(!strings.Contains(query, "WHERE"))
		is.True(strings.Contains(query, `ORDER BY "created_at" DESC, "id" DESC`))
		is.True(strings.Contains(query, "LIMIT $1"))
		is.Equal(len(args), 1)
	})

	t.Run("filters by genre and availability", func(t *testing.T) {
		is := is.New(t)

		available := true
		query, args, err := listBooksQuery(book.ListBooksRequest{
			Genre:         book.GenreFantasy,
			Available:     &available,
			SortBy:        "title",
			SortDirection: "asc",
		})
		is.NoErr(err)
		is.True(strings.Contains(query, `"genre" = $1`))
		is.True(strings.Contains(query, `"available"`))
		is.True(strings.Contains(query, `ORDER BY "title" ASC, "id" ASC`))
		is.True(!strings.Contains(query, "LIMIT"))
		is.Equal(args[0], "FANTASY")
	})

	t.Run("maps camel case sort fields to columns", func(t *testing.T) {
		is := is.New(t)

		is.Equal(sortColumn(""), "created_at")
		is.Equal(sortColumn("updatedAt"), "updated_at")
		is.Equal(sortColumn("copies"), "copies")
	})
}
