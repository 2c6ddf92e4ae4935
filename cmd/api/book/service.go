package book

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks . Notifier,Repository

const instrumentationName = "github.com/library-service/cmd/api/book"

type ServiceAPI interface {
	CreateBook(ctx context.Context, req CreateBookRequest) (Book, error)
	GetBook(ctx context.Context, id primitive.ObjectID) (Book, error)
	ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error)
	UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error)
	DeleteBook(ctx context.Context, id primitive.ObjectID) error
	BorrowBook(ctx context.Context, req BorrowBookRequest) (Borrow, error)
	ListBorrows(ctx context.Context, bookID primitive.ObjectID) ([]Borrow, error)
}

type Repository interface {
	CreateBook(ctx context.Context, bookEntry Book) (Book, error)
	GetBookByID(ctx context.Context, id primitive.ObjectID) (Book, error)
	ListBooks(ctx context.Context, params ListBooksRequest) ([]Book, error)
	UpdateBook(ctx context.Context, bookEntry Book) (Book, error)
	DeleteBook(ctx context.Context, id primitive.ObjectID) error
	DecrementCopies(ctx context.Context, id primitive.ObjectID, quantity int, updatedAt time.Time) (Book, error)
	SetBookAvailability(ctx context.Context, id primitive.ObjectID, available bool, updatedAt time.Time) (Book, error)
	CreateBorrow(ctx context.Context, borrowEntry Borrow) (Borrow, error)
	ListBorrowsByBook(ctx context.Context, bookID primitive.ObjectID) ([]Borrow, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Repository, driver.Tx, error)
}

type Notifier interface {
	BookCreated(ctx context.Context, title string, copies int) error
	BookBorrowed(ctx context.Context, title string, quantity, copiesLeft int) error
}

type Service struct {
	repo                 Repository
	ntfy                 Notifier
	notificationsTimeout time.Duration
	tracer               trace.Tracer
	borrowed             metric.Int64Counter
}

func NewService(repo Repository, ntfy Notifier, notificationsTimeout time.Duration) *Service {
	borrowed, err := otel.Meter(instrumentationName).Int64Counter(
		"library.books.borrowed",
		metric.WithDescription("Copies lent through successful borrows."),
		metric.WithUnit("{copy}"),
	)
	if err != nil {
		slog.Warn("creating borrow counter", "error", err)
		borrowed = noop.Int64Counter{}
	}

	return &Service{
		repo:                 repo,
		ntfy:                 ntfy,
		notificationsTimeout: notificationsTimeout,
		tracer:               otel.Tracer(instrumentationName),
		borrowed:             borrowed,
	}
}

/* Validates the request, then stores it as a new book. */
func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (Book, error) {
	ctx, span := s.tracer.Start(ctx, "book.CreateBook")
	defer span.End()

	newBook, err := bookFromCreateReq(req)
	if err != nil {
		return Book{}, spanError(span, err)
	}
	newBook.ID = primitive.NewObjectID()
	newBook.CreatedAt = timestamp()
	newBook.UpdatedAt = newBook.CreatedAt

	storedBook, err := s.repo.CreateBook(ctx, newBook)
	if err != nil {
		return Book{}, spanError(span, fmt.Errorf("creating book: %w", err))
	}

	s.notify(func(ctx context.Context) error {
		return s.ntfy.BookCreated(ctx, storedBook.Title, storedBook.Copies)
	})

	return storedBook, nil
}

func (s *Service) GetBook(ctx context.Context, id primitive.ObjectID) (Book, error) {
	ctx, span := s.tracer.Start(ctx, "book.GetBook", trace.WithAttributes(attribute.String("book.id", id.Hex())))
	defer span.End()

	b, err := s.repo.GetBookByID(ctx, id)
	if err != nil {
		return Book{}, spanError(span, err)
	}
	return b, nil
}

func (s *Service) ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error) {
	ctx, span := s.tracer.Start(ctx, "book.ListBooks")
	defer span.End()

	if req.Limit < 0 {
		return nil, spanError(span, ErrResponseQueryLimitInvalid)
	}

	books, err := s.repo.ListBooks(ctx, req)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("listing books: %w", err))
	}
	return books, nil
}

/* Merges the partial entry into the stored book and persists the result. */
func (s *Service) UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error) {
	ctx, span := s.tracer.Start(ctx, "book.UpdateBook", trace.WithAttributes(attribute.String("book.id", req.ID.Hex())))
	defer span.End()

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return Book{}, spanError(span, fmt.Errorf("updating book: %w", err))
	}
	defer tx.Rollback()

	stored, err := txRepo.GetBookByID(ctx, req.ID)
	if err != nil {
		return Book{}, spanError(span, fmt.Errorf("updating book: %w", err))
	}

	merged, err := mergeUpdate(stored, req)
	if err != nil {
		return Book{}, spanError(span, err)
	}
	merged.UpdatedAt = timestamp()

	updatedBook, err := txRepo.UpdateBook(ctx, merged)
	if err != nil {
		return Book{}, spanError(span, fmt.Errorf("updating book: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return Book{}, spanError(span, fmt.Errorf("updating book, commiting: %w", err))
	}
	return updatedBook, nil
}

func (s *Service) DeleteBook(ctx context.Context, id primitive.ObjectID) error {
	ctx, span := s.tracer.Start(ctx, "book.DeleteBook", trace.WithAttributes(attribute.String("book.id", id.Hex())))
	defer span.End()

	err := s.repo.DeleteBook(ctx, id)
	if err != nil {
		return spanError(span, fmt.Errorf("deleting book: %w", err))
	}
	return nil
}

// BorrowBook checks the stock, takes the copies, applies the availability
// rule and records the borrow. All writes land in a single transaction.
func (s *Service) BorrowBook(ctx context.Context, req BorrowBookRequest) (Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "book.BorrowBook", trace.WithAttributes(
		attribute.String("book.id", req.BookID.Hex()),
		attribute.Int("borrow.quantity", req.Quantity),
	))
	defer span.End()

	if req.BookID.IsZero() || req.Quantity == 0 || req.DueDate.IsZero() {
		return Borrow{}, spanError(span, ErrResponseBorrowEntryBlankFields)
	}
	if req.Quantity < 0 {
		return Borrow{}, spanError(span, quantityError(req.Quantity))
	}

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book: %w", err))
	}
	defer tx.Rollback()

	stored, err := txRepo.GetBookByID(ctx, req.BookID)
	if err != nil {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book: %w", err))
	}
	if !stored.Available || stored.Copies < req.Quantity {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book: %w", ErrResponseInsufficientStock))
	}

	now := timestamp()
	_, err = txRepo.DecrementCopies(ctx, req.BookID, req.Quantity, now)
	if err != nil {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book: %w", err))
	}

	lent, err := UpdateAvailability(ctx, txRepo, req.BookID, now)
	if err != nil {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book: %w", err))
	}

	createdBorrow, err := txRepo.CreateBorrow(ctx, Borrow{
		ID:        primitive.NewObjectID(),
		BookID:    req.BookID,
		Quantity:  req.Quantity,
		DueDate:   req.DueDate.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book: %w", err))
	}

	err = tx.Commit()
	if err != nil {
		return Borrow{}, spanError(span, fmt.Errorf("borrowing book, commiting: %w", err))
	}

	s.borrowed.Add(ctx, int64(req.Quantity), metric.WithAttributes(attribute.String("book.genre", string(lent.Genre))))
	s.notify(func(ctx context.Context) error {
		return s.ntfy.BookBorrowed(ctx, lent.Title, req.Quantity, lent.Copies)
	})

	return createdBorrow, nil
}

func (s *Service) ListBorrows(ctx context.Context, bookID primitive.ObjectID) ([]Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "book.ListBorrows", trace.WithAttributes(attribute.String("book.id", bookID.Hex())))
	defer span.End()

	if bookID.IsZero() {
		return nil, spanError(span, ErrResponseBorrowQueryBlankFields)
	}

	borrows, err := s.repo.ListBorrowsByBook(ctx, bookID)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("listing borrows: %w", err))
	}
	return borrows, nil
}

/* Delivers a notification in the background, detached from the request context. */
func (s *Service) notify(send func(ctx context.Context) error) {
	if s.ntfy == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notificationsTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			slog.Warn("notification not delivered", "error", err)
		}
	}()
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	if !isClientError(err) {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func isClientError(err error) bool {
	var errResp ErrResponse
	var vErr ValidationError
	var dupErr DuplicateKeyError
	return errors.As(err, &errResp) || errors.As(err, &vErr) || errors.As(err, &dupErr)
}
