package inmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/library-service/cmd/api/book"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type InMemoryStore struct {
	db  *memdb.MemDB
	txn *memdb.Txn //Only set on stores bound to a transaction by BeginTx.
}

func NewInMemoryStore() (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"book": {
				Name: "book",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"isbn": {
						Name:    "isbn",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ISBN"},
					},
					"genre": {
						Name:    "genre",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Genre"},
					},
				},
			},
			"borrow": {
				Name: "borrow",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"book_id": {
						Name:    "book_id",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "BookID"},
					},
				},
			},
		},
	}

	err := schema.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating in-memory schema: %w", err)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db}, nil
}

type AdaptedBook struct {
	ID          string
	Title       string
	Author      string
	Genre       string
	ISBN        string
	Description string
	Copies      int
	Available   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func adaptBookIdToString(b book.Book) AdaptedBook {
	return AdaptedBook{
		ID:          b.ID.Hex(),
		Title:       b.Title,
		Author:      b.Author,
		Genre:       string(b.Genre),
		ISBN:        b.ISBN,
		Description: b.Description,
		Copies:      b.Copies,
		Available:   b.Available,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func adaptBookIdToObjectID(adptBook AdaptedBook) book.Book {
	id, _ := primitive.ObjectIDFromHex(adptBook.ID)
	return book.Book{
		ID:          id,
		Title:       adptBook.Title,
		Author:      adptBook.Author,
		Genre:       book.Genre(adptBook.Genre),
		ISBN:        adptBook.ISBN,
		Description: adptBook.Description,
		Copies:      adptBook.Copies,
		Available:   adptBook.Available,
		CreatedAt:   adptBook.CreatedAt,
		UpdatedAt:   adptBook.UpdatedAt,
	}
}

type AdaptedBorrow struct {
	ID        string
	BookID    string
	Quantity  int
	DueDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func adaptBorrowIdToString(b book.Borrow) AdaptedBorrow {
	return AdaptedBorrow{
		ID:        b.ID.Hex(),
		BookID:    b.BookID.Hex(),
		Quantity:  b.Quantity,
		DueDate:   b.DueDate,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func adaptBorrowIdToObjectID(adptBorrow AdaptedBorrow) book.Borrow {
	id, _ := primitive.ObjectIDFromHex(adptBorrow.ID)
	bookID, _ := primitive.ObjectIDFromHex(adptBorrow.BookID)
	return book.Borrow{
		ID:        id,
		BookID:    bookID,
		Quantity:  adptBorrow.Quantity,
		DueDate:   adptBorrow.DueDate,
		CreatedAt: adptBorrow.CreatedAt,
		UpdatedAt: adptBorrow.UpdatedAt,
	}
}

/*
Returns the transaction to work on and a function to close it.
Inside a larger transaction the store's own txn is reused and closing is left to the TxWrapper.
*/
func (store *InMemoryStore) begin(write bool) (*memdb.Txn, func()) {
	if store.txn != nil {
		return store.txn, func() {}
	}
	txn := store.db.Txn(write)
	return txn, txn.Abort
}

func (store *InMemoryStore) commit(txn *memdb.Txn) {
	if store.txn == nil {
		txn.Commit()
	}
}

// -- Books --

func (store *InMemoryStore) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	txn, end := store.begin(true)
	defer end()

	raw, err := txn.First("book", "isbn", bookEntry.ISBN)
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	if raw != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", book.DuplicateKeyError{Field: "isbn", Value: bookEntry.ISBN})
	}

	err = txn.Insert("book", adaptBookIdToString(bookEntry))
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	store.commit(txn)
	return bookEntry, nil
}

func (store *InMemoryStore) GetBookByID(ctx context.Context, id primitive.ObjectID) (book.Book, error) {
	txn, end := store.begin(false)
	defer end()

	raw, err := txn.First("book", "id", id.Hex())
	if err != nil {
		return book.Book{}, fmt.Errorf("searching by ID: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("searching by ID: %w", book.ErrResponseBookNotFound)
	}

	return adaptBookIdToObjectID(raw.(AdaptedBook)), nil
}

func (store *InMemoryStore) ListBooks(ctx context.Context, params book.ListBooksRequest) ([]book.Book, error) {
	txn, end := store.begin(false)
	defer end()

	var it memdb.ResultIterator
	var err error
	if params.Genre != "" {
		it, err = txn.Get("book", "genre", string(params.Genre))
	} else {
		it, err = txn.Get("book", "id")
	}
	if err != nil {
		return []book.Book{}, fmt.Errorf("listing books from db: %w", err)
	}

	books := []book.Book{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		b := obj.(AdaptedBook)
		if params.Available != nil && b.Available != *params.Available {
			continue
		}
		books = append(books, adaptBookIdToObjectID(b))
	}

	books = sortBooks(params.SortBy, params.SortDirection, books)

	if params.Limit > 0 && len(books) > params.Limit {
		books = books[:params.Limit]
	}
	return books, nil
}

/* Sorts by a known field. Unknown fields leave the index order untouched. */
func sortBooks(sortBy, sortDirection string, books []book.Book) []book.Book {
	desc := sortDirection != "asc"
	var less func(i, j int) bool
	switch sortBy {
	case "", "createdAt":
		less = func(i, j int) bool { return books[i].CreatedAt.Before(books[j].CreatedAt) }
	case "updatedAt":
		less = func(i, j int) bool { return books[i].UpdatedAt.Before(books[j].UpdatedAt) }
	case "title":
		less = func(i, j int) bool { return books[i].Title < books[j].Title }
	case "author":
		less = func(i, j int) bool { return books[i].Author < books[j].Author }
	case "genre":
		less = func(i, j int) bool { return books[i].Genre < books[j].Genre }
	case "isbn":
		less = func(i, j int) bool { return books[i].ISBN < books[j].ISBN }
	case "copies":
		less = func(i, j int) bool { return books[i].Copies < books[j].Copies }
	case "available":
		less = func(i, j int) bool { return !books[i].Available && books[j].Available }
	default:
		return books
	}

	sort.SliceStable(books, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
	return books
}

func (store *InMemoryStore) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	txn, end := store.begin(true)
	defer end()

	raw, err := txn.First("book", "id", bookEntry.ID.Hex())
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", book.ErrResponseBookNotFound)
	}

	same, err := txn.First("book", "isbn", bookEntry.ISBN)
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	if same != nil && same.(AdaptedBook).ID != bookEntry.ID.Hex() {
		return book.Book{}, fmt.Errorf("updating book on db: %w", book.DuplicateKeyError{Field: "isbn", Value: bookEntry.ISBN})
	}

	updatedBook := adaptBookIdToString(bookEntry)
	updatedBook.CreatedAt = raw.(AdaptedBook).CreatedAt //CreatedAt will not change

	err = txn.Insert("book", updatedBook)
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToObjectID(updatedBook), nil
}

func (store *InMemoryStore) DeleteBook(ctx context.Context, id primitive.ObjectID) error {
	txn, end := store.begin(true)
	defer end()

	count, err := txn.DeleteAll("book", "id", id.Hex())
	if err != nil {
		return fmt.Errorf("deleting book on db: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("deleting book on db: %w", book.ErrResponseBookNotFound)
	}

	store.commit(txn)
	return nil
}

/* Takes copies only while the book is available and holds enough of them. */
func (store *InMemoryStore) DecrementCopies(ctx context.Context, id primitive.ObjectID, quantity int, updatedAt time.Time) (book.Book, error) {
	txn, end := store.begin(true)
	defer end()

	raw, err := txn.First("book", "id", id.Hex())
	if err != nil {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", book.ErrResponseBookNotFound)
	}

	b := raw.(AdaptedBook)
	if !b.Available || b.Copies < quantity {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", book.ErrResponseInsufficientStock)
	}
	b.Copies -= quantity
	b.UpdatedAt = updatedAt

	err = txn.Insert("book", b)
	if err != nil {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToObjectID(b), nil
}

func (store *InMemoryStore) SetBookAvailability(ctx context.Context, id primitive.ObjectID, available bool, updatedAt time.Time) (book.Book, error) {
	txn, end := store.begin(true)
	defer end()

	raw, err := txn.First("book", "id", id.Hex())
	if err != nil {
		return book.Book{}, fmt.Errorf("setting availability on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("setting availability on db: %w", book.ErrResponseBookNotFound)
	}

	b := raw.(AdaptedBook)
	b.Available = available
	b.UpdatedAt = updatedAt

	err = txn.Insert("book", b)
	if err != nil {
		return book.Book{}, fmt.Errorf("setting availability on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToObjectID(b), nil
}

// -- Borrows --

func (store *InMemoryStore) CreateBorrow(ctx context.Context, borrowEntry book.Borrow) (book.Borrow, error) {
	txn, end := store.begin(true)
	defer end()

	err := txn.Insert("borrow", adaptBorrowIdToString(borrowEntry))
	if err != nil {
		return book.Borrow{}, fmt.Errorf("storing borrow on db: %w", err)
	}

	store.commit(txn)
	return borrowEntry, nil
}

func (store *InMemoryStore) ListBorrowsByBook(ctx context.Context, bookID primitive.ObjectID) ([]book.Borrow, error) {
	txn, end := store.begin(false)
	defer end()

	it, err := txn.Get("borrow", "book_id", bookID.Hex())
	if err != nil {
		return []book.Borrow{}, fmt.Errorf("listing borrows from db: %w", err)
	}

	borrows := []book.Borrow{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		borrows = append(borrows, adaptBorrowIdToObjectID(obj.(AdaptedBorrow)))
	}

	sort.SliceStable(borrows, func(i, j int) bool {
		return borrows[i].CreatedAt.Before(borrows[j].CreatedAt)
	})
	return borrows, nil
}

// -- Transactions --

/*
Opens a write transaction. memdb allows a single writer at a time,
so concurrent transactions queue up here until the current one ends.
The wait ignores ctx. If ctx ended meanwhile the lock is released and an error returned.
*/
func (store *InMemoryStore) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	if store.txn != nil {
		return store, noopTx{}, nil
	}

	txn := store.db.Txn(true)
	if err := ctx.Err(); err != nil {
		txn.Abort()
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	txWrapper := &TxWrapper{txn: txn}
	txStore := &InMemoryStore{
		db:  store.db,
		txn: txn,
	}

	return txStore, txWrapper, nil
}

type TxWrapper struct {
	txn  *memdb.Txn
	done bool
}

func (tx *TxWrapper) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.txn.Commit()
	return nil
}

func (tx *TxWrapper) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.txn.Abort()
	return nil
}

// noopTx leaves a nested transaction's fate to the outer one.
type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }
