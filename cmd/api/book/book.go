package book

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Genre string

const (
	GenreFiction    Genre = "FICTION"
	GenreNonFiction Genre = "NON_FICTION"
	GenreScience    Genre = "SCIENCE"
	GenreHistory    Genre = "HISTORY"
	GenreBiography  Genre = "BIOGRAPHY"
	GenreFantasy    Genre = "FANTASY"
)

type Book struct {
	ID          primitive.ObjectID
	Title       string
	Author      string
	Genre       Genre
	ISBN        string
	Description string
	Copies      int
	Available   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Borrow is an immutable record of one lending. BookID is a plain reference,
// deleting the book leaves its borrows in place.
type Borrow struct {
	ID        primitive.ObjectID
	BookID    primitive.ObjectID
	Quantity  int
	DueDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

/* Parses a 24-character hexadecimal identifier. */
func ParseID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, MalformedIDError{Value: s}
	}
	return id, nil
}

// ApplyAvailabilityRule marks a book without copies as unavailable.
// It never turns availability back on: restocking needs an explicit update.
func ApplyAvailabilityRule(b Book) Book {
	if b.Copies <= 0 {
		b.Available = false
	}
	return b
}

// UpdateAvailability loads the book, applies the availability rule and
// persists the flag only when the rule changed it.
func UpdateAvailability(ctx context.Context, repo Repository, id primitive.ObjectID, at time.Time) (Book, error) {
	stored, err := repo.GetBookByID(ctx, id)
	if err != nil {
		return Book{}, fmt.Errorf("updating availability: %w", err)
	}

	ruled := ApplyAvailabilityRule(stored)
	if ruled.Available == stored.Available {
		return stored, nil
	}

	updated, err := repo.SetBookAvailability(ctx, id, ruled.Available, at)
	if err != nil {
		return Book{}, fmt.Errorf("updating availability: %w", err)
	}
	return updated, nil
}

func timestamp() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
