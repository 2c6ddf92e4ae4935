package mongodb_test

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/mongodb"
	"github.com/library-service/cmd/api/storetest"
	"github.com/matryer/is"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var store *mongodb.Store
var client *mongo.Client
var ctx context.Context = context.Background()

const testDatabase = "library_test"

func TestMain(m *testing.M) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		log.Println("MONGODB_URI not set, mongo tests will be skipped")
		os.Exit(m.Run())
	}

	var err error
	client, err = mongodb.Connect(ctx, uri)
	if err != nil {
		log.Fatalln(err)
	}

	store = mongodb.NewStore(client, testDatabase)
	err = store.EnsureIndexes(ctx)
	if err != nil {
		log.Fatalln(err)
	}

	code := m.Run()
	client.Database(testDatabase).Drop(ctx)
	client.Disconnect(ctx)
	os.Exit(code)
}

func requireMongo(t *testing.T) {
	t.Helper()
	if store == nil {
		t.Skip("MONGODB_URI not set")
	}
}

func TestConnectUnreachable(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := mongodb.Connect(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200")
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "pinging mongo"))
	is.True(c == nil)
}

func TestRepository(t *testing.T) {
	requireMongo(t)

	storetest.Run(t, storetest.Harness{
		NewStore: func(t *testing.T) book.Repository {
			teardownDB(t)
			t.Cleanup(func() {
				teardownDB(t)
			})
			return store
		},
	})
}

func TestListBooksUnknownSortField(t *testing.T) {
	requireMongo(t)
	t.Cleanup(func() {
		teardownDB(t)
	})
	is := is.New(t)

	_, err := store.CreateBook(ctx, storetest.NewBook(book.GenreHistory, 1, time.Now()))
	is.NoErr(err)

	books, err := store.ListBooks(ctx, book.ListBooksRequest{SortBy: "pages", SortDirection: "desc", Limit: 10})
	is.NoErr(err) // missing fields sort as null
	is.Equal(len(books), 1)
}

func TestBorrowScenario(t *testing.T) {
	requireMongo(t)
	t.Cleanup(func() {
		teardownDB(t)
	})
	is := is.New(t)
	service := book.NewService(store, nil, time.Second)

	b := storetest.NewBook(book.GenreFantasy, 2, time.Now())
	_, err := store.CreateBook(ctx, b)
	is.NoErr(err)

	dueDate := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, err = service.BorrowBook(ctx, book.BorrowBookRequest{BookID: b.ID, Quantity: 2, DueDate: dueDate})
	is.NoErr(err)

	fetched, err := store.GetBookByID(ctx, b.ID)
	is.NoErr(err)
	is.Equal(fetched.Copies, 0)
	is.Equal(fetched.Available, false)

	_, err = service.BorrowBook(ctx, book.BorrowBookRequest{BookID: b.ID, Quantity: 1, DueDate: dueDate})
	is.True(errors.Is(err, book.ErrResponseInsufficientStock))

	borrows, err := store.ListBorrowsByBook(ctx, b.ID)
	is.NoErr(err)
	is.Equal(len(borrows), 1)
	is.Equal(borrows[0].DueDate, dueDate)
}

func teardownDB(t *testing.T) {
	is := is.New(t)

	// Emptying both collections while keeping their indexes.
	db := client.Database(testDatabase)
	_, err := db.Collection("books").DeleteMany(ctx, bson.M{})
	is.NoErr(err)
	_, err = db.Collection("borrows").DeleteMany(ctx, bson.M{})
	is.NoErr(err)
}
