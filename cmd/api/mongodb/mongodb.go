package mongodb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/library-service/cmd/api/book"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	booksCollection   = "books"
	borrowsCollection = "borrows"
)

type Store struct {
	client  *mongo.Client
	books   *mongo.Collection
	borrows *mongo.Collection
	session mongo.Session //Only set on stores bound to a transaction by BeginTx.
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("pinging mongo: %w", err),
			client.Disconnect(context.WithoutCancel(ctx)),
		)
	}

	slog.Info("connected to mongo")
	return client, nil
}

func NewStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:  client,
		books:   db.Collection(booksCollection),
		borrows: db.Collection(borrowsCollection),
	}
}

/* Creates the isbn uniqueness and borrow lookup indexes. Safe to run on every start. */
func (store *Store) EnsureIndexes(ctx context.Context) error {
	_, err := store.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "isbn", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "genre", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating book indexes: %w", err)
	}

	_, err = store.borrows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "bookId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating borrow indexes: %w", err)
	}
	return nil
}

type bookDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	Title       string             `bson:"title"`
	Author      string             `bson:"author"`
	Genre       string             `bson:"genre"`
	ISBN        string             `bson:"isbn"`
	Description string             `bson:"description"`
	Copies      int                `bson:"copies"`
	Available   bool               `bson:"available"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func newBookDocument(b book.Book) bookDocument {
	return bookDocument{
		ID:          b.ID,
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

func (d bookDocument) toBook() book.Book {
	return book.Book{
		ID:          d.ID,
		Title:       d.Title,
		Author:      d.Author,
		Genre:       book.Genre(d.Genre),
		ISBN:        d.ISBN,
		Description: d.Description,
		Copies:      d.Copies,
		Available:   d.Available,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

type borrowDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	BookID    primitive.ObjectID `bson:"bookId"`
	Quantity  int                `bson:"quantity"`
	DueDate   time.Time          `bson:"dueDate"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d borrowDocument) toBorrow() book.Borrow {
	return book.Borrow{
		ID:        d.ID,
		BookID:    d.BookID,
		Quantity:  d.Quantity,
		DueDate:   d.DueDate.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

/* Binds the call to the store's session when it runs inside a transaction. */
func (store *Store) withSession(ctx context.Context) context.Context {
	if store.session == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, store.session)
}

func duplicateISBN(err error, isbn string) error {
	if mongo.IsDuplicateKeyError(err) {
		return book.DuplicateKeyError{Field: "isbn", Value: isbn}
	}
	return err
}

// -- Books --

func (store *Store) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	_, err := store.books.InsertOne(store.withSession(ctx), newBookDocument(bookEntry))
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", duplicateISBN(err, bookEntry.ISBN))
	}
	return bookEntry, nil
}

func (store *Store) GetBookByID(ctx context.Context, id primitive.ObjectID) (book.Book, error) {
	var doc bookDocument
	err := store.books.FindOne(store.withSession(ctx), bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return book.Book{}, fmt.Errorf("searching by ID: %w", book.ErrResponseBookNotFound)
	}
	if err != nil {
		return book.Book{}, fmt.Errorf("searching by ID: %w", err)
	}
	return doc.toBook(), nil
}

func (store *Store) ListBooks(ctx context.Context, params book.ListBooksRequest) ([]book.Book, error) {
	filter := bson.M{}
	if params.Genre != "" {
		filter["genre"] = string(params.Genre)
	}
	if params.Available != nil {
		filter["available"] = *params.Available
	}

	direction := -1
	if params.SortDirection == "asc" {
		direction = 1
	}
	sortBy := params.SortBy
	if sortBy == "" {
		sortBy = "createdAt"
	}

	opts := options.Find().SetSort(bson.D{
		{Key: sortBy, Value: direction},
		{Key: "_id", Value: direction},
	})
	if params.Limit > 0 {
		opts.SetLimit(int64(params.Limit))
	}

	sctx := store.withSession(ctx)
	cursor, err := store.books.Find(sctx, filter, opts)
	if err != nil {
		return []book.Book{}, fmt.Errorf("listing books from db: %w", err)
	}

	var docs []bookDocument
	err = cursor.All(sctx, &docs)
	if err != nil {
		return []book.Book{}, fmt.Errorf("listing books from db: %w", err)
	}

	books := make([]book.Book, 0, len(docs))
	for _, doc := range docs {
		books = append(books, doc.toBook())
	}
	return books, nil
}

func (store *Store) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	update := bson.M{"$set": bson.M{
		"title":       bookEntry.Title,
		"author":      bookEntry.Author,
		"genre":       string(bookEntry.Genre),
		"isbn":        bookEntry.ISBN,
		"description": bookEntry.Description,
		"copies":      bookEntry.Copies,
		"available":   bookEntry.Available,
		"updatedAt":   bookEntry.UpdatedAt,
	}}

	doc, err := store.findOneAndUpdate(ctx, bson.M{"_id": bookEntry.ID}, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return book.Book{}, fmt.Errorf("updating book on db: %w", book.ErrResponseBookNotFound)
	}
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", duplicateISBN(err, bookEntry.ISBN))
	}
	return doc.toBook(), nil
}

func (store *Store) DeleteBook(ctx context.Context, id primitive.ObjectID) error {
	res, err := store.books.DeleteOne(store.withSession(ctx), bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting book on db: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("deleting book on db: %w", book.ErrResponseBookNotFound)
	}
	return nil
}

/* Takes copies only while the book is available and holds enough of them. */
func (store *Store) DecrementCopies(ctx context.Context, id primitive.ObjectID, quantity int, updatedAt time.Time) (book.Book, error) {
	filter := bson.M{
		"_id":       id,
		"available": true,
		"copies":    bson.M{"$gte": quantity},
	}
	update := bson.M{
		"$inc": bson.M{"copies": -quantity},
		"$set": bson.M{"updatedAt": updatedAt},
	}

	doc, err := store.findOneAndUpdate(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, countErr := store.books.CountDocuments(store.withSession(ctx), bson.M{"_id": id})
		if countErr != nil {
			return book.Book{}, fmt.Errorf("decrementing copies on db: %w", countErr)
		}
		if count == 0 {
			return book.Book{}, fmt.Errorf("decrementing copies on db: %w", book.ErrResponseBookNotFound)
		}
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", book.ErrResponseInsufficientStock)
	}
	if err != nil {
		return book.Book{}, fmt.Errorf("decrementing copies on db: %w", err)
	}
	return doc.toBook(), nil
}

func (store *Store) SetBookAvailability(ctx context.Context, id primitive.ObjectID, available bool, updatedAt time.Time) (book.Book, error) {
	update := bson.M{"$set": bson.M{"available": available, "updatedAt": updatedAt}}

	doc, err := store.findOneAndUpdate(ctx, bson.M{"_id": id}, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return book.Book{}, fmt.Errorf("setting availability on db: %w", book.ErrResponseBookNotFound)
	}
	if err != nil {
		return book.Book{}, fmt.Errorf("setting availability on db: %w", err)
	}
	return doc.toBook(), nil
}

func (store *Store) findOneAndUpdate(ctx context.Context, filter, update bson.M) (bookDocument, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc bookDocument
	err := store.books.FindOneAndUpdate(store.withSession(ctx), filter, update, opts).Decode(&doc)
	return doc, err
}

// -- Borrows --

func (store *Store) CreateBorrow(ctx context.Context, borrowEntry book.Borrow) (book.Borrow, error) {
	doc := borrowDocument{
		ID:        borrowEntry.ID,
		BookID:    borrowEntry.BookID,
		Quantity:  borrowEntry.Quantity,
		DueDate:   borrowEntry.DueDate,
		CreatedAt: borrowEntry.CreatedAt,
		UpdatedAt: borrowEntry.UpdatedAt,
	}

	_, err := store.borrows.InsertOne(store.withSession(ctx), doc)
	if err != nil {
		return book.Borrow{}, fmt.Errorf("storing borrow on db: %w", err)
	}
	return borrowEntry, nil
}

func (store *Store) ListBorrowsByBook(ctx context.Context, bookID primitive.ObjectID) ([]book.Borrow, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "createdAt", Value: 1},
		{Key: "_id", Value: 1},
	})

	sctx := store.withSession(ctx)
	cursor, err := store.borrows.Find(sctx, bson.M{"bookId": bookID}, opts)
	if err != nil {
		return []book.Borrow{}, fmt.Errorf("listing borrows from db: %w", err)
	}

	var docs []borrowDocument
	err = cursor.All(sctx, &docs)
	if err != nil {
		return []book.Borrow{}, fmt.Errorf("listing borrows from db: %w", err)
	}

	borrows := make([]book.Borrow, 0, len(docs))
	for _, doc := range docs {
		borrows = append(borrows, doc.toBorrow())
	}
	return borrows, nil
}

// -- Transactions --

/*
Starts a session with a multi-document transaction.
Transactions need a replica set or a sharded cluster.
*/
func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	if store.session != nil {
		return store, noopTx{}, nil
	}

	session, err := store.client.StartSession()
	if err != nil {
		return nil, nil, fmt.Errorf("starting session: %w", err)
	}

	err = session.StartTransaction()
	if err != nil {
		session.EndSession(ctx)
		return nil, nil, fmt.Errorf("starting transaction: %w", err)
	}

	txStore := &Store{
		client:  store.client,
		books:   store.books,
		borrows: store.borrows,
		session: session,
	}
	txWrapper := &TxWrapper{
		session: session,
		ctx:     context.WithoutCancel(ctx),
	}
	return txStore, txWrapper, nil
}

// TxWrapper ends the session together with the transaction.
type TxWrapper struct {
	session mongo.Session
	ctx     context.Context
	done    bool
}

func (tx *TxWrapper) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	defer tx.session.EndSession(tx.ctx)
	return tx.session.CommitTransaction(tx.ctx)
}

func (tx *TxWrapper) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	defer tx.session.EndSession(tx.ctx)
	return tx.session.AbortTransaction(tx.ctx)
}

// noopTx leaves a nested transaction's fate to the outer one.
type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }
