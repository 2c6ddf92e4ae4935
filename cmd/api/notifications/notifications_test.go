package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"
)

type received struct {
	path string
	body string
}

/* Starts a fake ntfy server that records every published message. */
func newNtfyServer(t *testing.T, status int) (*httptest.Server, chan received) {
	messages := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		messages <- received{path: r.URL.Path, body: string(body)}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, messages
}

func TestBookCreated(t *testing.T) {

	t.Run("publishes the creation of a new book to its topic", func(t *testing.T) {
		is := is.New(t)
		server, messages := newNtfyServer(t, http.StatusOK)
		ntfy := NewNtfy(true, server.URL+"/library", server.Client())

		err := ntfy.BookCreated(context.Background(), "Dune", 35)
		is.NoErr(err)

		msg := <-messages
		is.Equal(msg.path, "/library_New_book_created")
		is.Equal(msg.body, "New book created:\nTitle: Dune\nCopies: 35")
	})

	t.Run("expected notification failed error", func(t *testing.T) {
		is := is.New(t)
		server, _ := newNtfyServer(t, http.StatusTooManyRequests)
		ntfy := NewNtfy(true, server.URL+"/library", server.Client())

		err := ntfy.BookCreated(context.Background(), "Dune", 35)
		is.True(errors.Is(err, NewErrNotificationFailed(http.StatusTooManyRequests)))
	})

	t.Run("expected context timeout error", func(t *testing.T) {
		is := is.New(t)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(server.Close)
		ntfy := NewNtfy(true, server.URL+"/library", server.Client())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
		defer cancel()

		err := ntfy.BookCreated(ctx, "Dune", 35)
		is.True(errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("sends nothing while disabled", func(t *testing.T) {
		is := is.New(t)
		server, messages := newNtfyServer(t, http.StatusOK)
		ntfy := NewNtfy(false, server.URL+"/library", server.Client())

		err := ntfy.BookCreated(context.Background(), "Dune", 35)
		is.NoErr(err)
		is.Equal(len(messages), 0)
	})
}

func TestBookBorrowed(t *testing.T) {
	is := is.New(t)
	server, messages := newNtfyServer(t, http.StatusOK)
	ntfy := NewNtfy(true, server.URL+"/library", server.Client())

	err := ntfy.BookBorrowed(context.Background(), "Dune", 2, 1)
	is.NoErr(err)

	msg := <-messages
	is.Equal(msg.path, "/library_Book_borrowed")
	is.Equal(msg.body, "Book borrowed:\nTitle: Dune\nQuantity: 2\nCopies left: 1")
}
