package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/library-service/cmd/api/book"
	"go.mongodb.org/mongo-driver/bson/primitive"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	dialectPostgres      = "postgres"
	isbnUniqueConstraint = "books_isbn_unique"
	bookColumns          = `id, title, author, genre, isbn, description, copies, available, created_at, updated_at`
	borrowColumns        = `id, book_id, quantity, due_date, created_at, updated_at`
)

type DBTX interface {
	sqlx.ExtContext
}

type Store struct {
	db  *sqlx.DB
	exc *Executor

	// transaction-bound, GetBookByID locks the row it reads
	inTx bool
}

type Executor struct {
	DBTX
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		exc: NewExc(db),
	}
}

func NewExc(dbtx DBTX) *Executor {
	return &Executor{DBTX: dbtx}
}

func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	tx, err := store.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}

	txRepo := NewStore(store.db)
	txRepo.exc = NewExc(tx)
	txRepo.inTx = true
	return txRepo, tx, nil
}

/* Connects to the database trought a connection string and returns a pointer to a valid DB object (*sqlx.DB). */
func ConnectDb(ctx context.Context, connStr string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, openning: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to db, pingging: %w", err)
	}

	slog.Info("connected to postgres")
	return db, nil
}

func MigrationUp(store *Store, path string) error {
	driver, err := postgres.WithInstance(store.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", path),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	err = m.Up()
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}
	return nil
}

type bookRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Author      string    `db:"author"`
	Genre       string    `db:"genre"`
	ISBN        string    `db:"isbn"`
	Description string    `db:"description"`
	Copies      int       `db:"copies"`
	Available   bool      `db:"available"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r bookRow) toBook() book.Book {
	id, _ := primitive.ObjectIDFromHex(r.ID)
	return book.Book{
		ID:          id,
		Title:       r.Title,
		Author:      r.Author,
		Genre:       book.Genre(r.Genre),
		ISBN:        r.ISBN,
		Description: r.Description,
		Copies:      r.Copies,
		Available:   r.Available,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type borrowRow struct {
	ID        string    `db:"id"`
	BookID    string    `db:"book_id"`
	Quantity  int       `db:"quantity"`
	DueDate   time.Time `db:"due_date"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r borrowRow) toBorrow() book.Borrow {
	id, _ := primitive.ObjectIDFromHex(r.ID)
	bookID, _ := primitive.ObjectIDFromHex(r.BookID)
	return book.Borrow{
		ID:        id,
		BookID:    bookID,
		Quantity:  r.Quantity,
		DueDate:   r.DueDate.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

/* Translates a violation of the isbn unique constraint into a duplicate key error. */
func mapUniqueViolation(err error, isbn string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation && pqErr.Constraint == isbnUniqueConstraint {
		return book.DuplicateKeyError{Field: "isbn", Value: isbn}
	}
	return err
}

// -- Books --

/* Stores the book into the database, checks and returns it if succeed. */
func (store *Store) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	INSERT INTO books (` + bookColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING ` + bookColumns
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement,
		bookEntry.ID.Hex(), bookEntry.Title, bookEntry.Author, string(bookEntry.Genre), bookEntry.ISBN,
		bookEntry.Description, bookEntry.Copies, bookEntry.Available, bookEntry.CreatedAt, bookEntry.UpdatedAt)
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", mapUniqueViolation(err, bookEntry.ISBN))
	}

	return row.toBook(), nil
}

/* Searches a book in database based on ID and returns it if succeed. Inside a transaction the row stays locked until it ends. */
func (store *Store) GetBookByID(ctx context.Context, id primitive.ObjectID) (book.Book, error) {
	sqlStatement := `SELECT ` + bookColumns + `
	FROM books
	WHERE id = $1`
	if store.inTx {
		sqlStatement += ` FOR UPDATE`
	}
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return book.Book{}, fmt.Errorf("searching by ID: %w", book.ErrResponseBookNotFound)
		}
		return book.Book{}, fmt.Errorf("searching by ID: %w", err)
	}

	return row.toBook(), nil
}

/* Returns filtered content of database in a list of books. */
func (store *Store) ListBooks(ctx context.Context, params book.ListBooksRequest) ([]book.Book, error) {
	sqlStatement, args, err := listBooksQuery(params)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	rows := []bookRow{}
	err = sqlx.SelectContext(ctx, store.exc, &rows, sqlStatement, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	books := make([]book.Book, 0, len(rows))
	for _, row := range rows {
		books = append(books, row.toBook())
	}
	return books, nil
}

func listBooksQuery(params book.ListBooksRequest) (string, []any, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("books").
		Select(goqu.L(bookColumns))

	if params.Genre != "" {
		ds = ds.Where(goqu.C("genre").Eq(string(params.Genre)))
	}
	if params.Available != nil {
		ds = ds.Where(goqu.C("available").Eq(*params.Available))
	}

	sortBy := goqu.I(sortColumn(params.SortBy))
	if params.SortDirection == "asc" {
		ds = ds.Order(sortBy.Asc(), goqu.I("id").Asc())
	} else {
		ds = ds.Order(sortBy.Desc(), goqu.I("id").Desc())
	}

	if params.Limit > 0 {
		ds = ds.Limit(uint(params.Limit))
	}

	return ds.Prepared(true).ToSQL()
}

/* Maps the API field names to columns. Other names go through as quoted identifiers. */
func sortColumn(sortBy string) string {
	switch sortBy {
	case "", "createdAt":
		return "created_at"
	case "updatedAt":
		return "updated_at"
	default:
		return sortBy
	}
}

/* Stores the book into the database, checks and returns it if succeed. */
func (store *Store) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET title = $2, author = $3, genre = $4, isbn = $5, description = $6, copies = $7, available = $8, updated_at = $9
	WHERE id = $1
	RETURNING ` + bookColumns
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement,
		bookEntry.ID.Hex(), bookEntry.Title, bookEntry.Author, string(bookEntry.Genre), bookEntry.ISBN,
		bookEntry.Description, bookEntry.Copies, bookEntry.Available, bookEntry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return book.Book{}, fmt.Errorf("updating on db: %w", book.ErrResponseBookNotFound)
		}
		return book.Book{}, fmt.Errorf("updating on db: %w", mapUniqueViolation(err, bookEntry.ISBN))
	}

	return row.toBook(), nil
}

func (store *Store) DeleteBook(ctx context.Context, id primitive.ObjectID) error {
	sqlStatement := `
	DELETE FROM books
	WHERE id = $1;`
	result, err := store.exc.ExecContext(ctx, sqlStatement, id.Hex())
	if err != nil {
		return fmt.Errorf("deleting book on db: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting book on db: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("deleting book on db: %w", book.ErrResponseBookNotFound)
	}
	return nil
}

/* Takes copies in one conditional statement, so concurrent borrows can not overdraw the stock. */
func (store *Store) DecrementCopies(ctx context.Context, id primitive.ObjectID, quantity int, updatedAt time.Time) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET copies = copies - $2, updated_at = $3
	WHERE id = $1 AND available AND copies >= $2
	RETURNING ` + bookColumns
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id.Hex(), quantity, updatedAt)
	if err == nil {
		return row.toBook(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", err)
	}

	var exists bool
	err = sqlx.GetContext(ctx, store.exc, &exists, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1);`, id.Hex())
	if err != nil {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", err)
	}
	if !exists {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", book.ErrResponseBookNotFound)
	}
	return book.Book{}, fmt.Errorf("decrementing copies on db: %w", book.ErrResponseInsufficientStock)
}

/* Change the 'available' column on database. */
func (store *Store) SetBookAvailability(ctx context.Context, id primitive.ObjectID, available bool, updatedAt time.Time) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET available = $2, updated_at = $3
	WHERE id = $1
	RETURNING ` + bookColumns
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id.Hex(), available, updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return book.Book{}, fmt.Errorf("setting availability on db: %w", book.ErrResponseBookNotFound)
		}
		return book.Book{}, fmt.Errorf("setting availability on db: %w", err)
	}

	return row.toBook(), nil
}

// -- Borrows --

func (store *Store) CreateBorrow(ctx context.Context, borrowEntry book.Borrow) (book.Borrow, error) {
	sqlStatement := `
	INSERT INTO borrows (` + borrowColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + borrowColumns
	var row borrowRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement,
		borrowEntry.ID.Hex(), borrowEntry.BookID.Hex(), borrowEntry.Quantity, borrowEntry.DueDate, borrowEntry.CreatedAt, borrowEntry.UpdatedAt)
	if err != nil {
		return book.Borrow{}, fmt.Errorf("storing borrow on db: %w", err)
	}

	return row.toBorrow(), nil
}

func (store *Store) ListBorrowsByBook(ctx context.Context, bookID primitive.ObjectID) ([]book.Borrow, error) {
	sqlStatement := `SELECT ` + borrowColumns + `
	FROM borrows
	WHERE book_id = $1
	ORDER BY created_at ASC, id ASC;`
	rows := []borrowRow{}
	err := sqlx.SelectContext(ctx, store.exc, &rows, sqlStatement, bookID.Hex())
	if err != nil {
		return nil, fmt.Errorf("listing borrows from db: %w", err)
	}

	borrows := make([]book.Borrow, 0, len(rows))
	for _, row := range rows {
		borrows = append(borrows, row.toBorrow())
	}
	return borrows, nil
}
