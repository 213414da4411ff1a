// Package repo contains all persistence logic for the travel planner.
// The remote variant stores each trip as a JSONB document in Postgres and
// publishes changes over LISTEN/NOTIFY; the local variant keeps one JSON
// blob in a SQLite key/value table. No business logic lives here.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TripRepo defines the persistence operations for trip documents.
// Every operation is scoped by the owning user's ID.
type TripRepo interface {
	// Create inserts a new trip document and returns the persisted record
	// with the DB-generated id and created_at populated. Any ID on trip is ignored.
	Create(ctx context.Context, ownerID string, trip domain.Trip) (domain.Trip, error)

	// ListByOwner returns all of the owner's trips in creation order.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Trip, error)

	// Update replaces the whole document of an existing trip.
	// Returns domain.ErrNotFound if the owner has no trip with that ID.
	Update(ctx context.Context, ownerID string, trip domain.Trip) (domain.Trip, error)

	// Modify locks the owner's trip row, applies edit to the decoded
	// document, and writes the result back in the same transaction.
	// An error from edit rolls the transaction back and is returned as is.
	// Returns domain.ErrNotFound if the owner has no trip with that ID.
	Modify(ctx context.Context, ownerID string, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error)

	// Delete removes a trip. Returns domain.ErrNotFound if it does not exist.
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

// Create inserts a new trip row and returns the full persisted record.
func (r *pgTripRepo) Create(ctx context.Context, ownerID string, trip domain.Trip) (domain.Trip, error) {
	const q = `
		INSERT INTO trips (owner_id, doc)
		VALUES (@owner_id, @doc::jsonb)
		RETURNING id, doc, created_at`

	doc, err := encodeDoc(trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"owner_id": ownerID, "doc": doc})
	result, err := scanTrip(row)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return result, nil
}

// ListByOwner returns the owner's trips oldest first, matching the order
// in which they were created.
func (r *pgTripRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Trip, error) {
	const q = `
		SELECT id, doc, created_at
		FROM trips
		WHERE owner_id = @owner_id
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListByOwner: %w", err)
	}
	defer rows.Close()

	trips := []domain.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.TripRepo.ListByOwner: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListByOwner: rows: %w", err)
	}
	return trips, nil
}

// Update overwrites the trip document and returns the stored record.
func (r *pgTripRepo) Update(ctx context.Context, ownerID string, trip domain.Trip) (domain.Trip, error) {
	result, err := updateDoc(ctx, r.db, ownerID, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Update: %w", err)
	}
	return result, nil
}

// Modify reads the row with SELECT ... FOR UPDATE so concurrent edits of the
// same trip queue behind each other instead of overwriting each other.
func (r *pgTripRepo) Modify(ctx context.Context, ownerID string, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error) {
	const q = `
		SELECT id, doc, created_at
		FROM trips
		WHERE id = @id AND owner_id = @owner_id
		FOR UPDATE`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Modify: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	trip, err := scanTrip(tx.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "owner_id": ownerID}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Modify: %w", err)
	}
	if err := edit(&trip); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Modify: %w", err)
	}
	trip.ID = id

	result, err := updateDoc(ctx, tx, ownerID, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Modify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Modify: commit: %w", err)
	}
	return result, nil
}

func updateDoc(ctx context.Context, q db, ownerID string, trip domain.Trip) (domain.Trip, error) {
	const stmt = `
		UPDATE trips
		SET doc        = @doc::jsonb,
		    updated_at = now()
		WHERE id = @id AND owner_id = @owner_id
		RETURNING id, doc, created_at`

	doc, err := encodeDoc(trip)
	if err != nil {
		return domain.Trip{}, err
	}

	args := pgx.NamedArgs{
		"id":       trip.ID,
		"owner_id": ownerID,
		"doc":      doc,
	}
	return scanTrip(q.QueryRow(ctx, stmt, args))
}

// Delete removes a trip by primary key, scoped to its owner.
func (r *pgTripRepo) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	const q = `DELETE FROM trips WHERE id = @id AND owner_id = @owner_id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("repo.TripRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.TripRepo.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

// encodeDoc serializes the trip body. Identity and creation time live in
// their own columns, so they are cleared from the document.
func encodeDoc(trip domain.Trip) (string, error) {
	trip.ID = uuid.Nil
	trip.CreatedAt = time.Time{}
	trip.Normalize()
	b, err := json.Marshal(trip)
	if err != nil {
		return "", fmt.Errorf("encode doc: %w", err)
	}
	return string(b), nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing scanTrip to be
// reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a single (id, doc, created_at) row into a domain.Trip.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		id        pgtype.UUID
		doc       []byte
		createdAt time.Time
	)

	if err := s.Scan(&id, &doc, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	var t domain.Trip
	if err := json.Unmarshal(doc, &t); err != nil {
		return domain.Trip{}, fmt.Errorf("decode doc: %w", err)
	}
	t.ID = uuid.UUID(id.Bytes)
	t.CreatedAt = createdAt.UTC()
	t.Normalize()
	return t, nil
}
