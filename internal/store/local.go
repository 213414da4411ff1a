package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/repo"
)

// DefaultStorageKey is the key the local variant stores its trips under.
const DefaultStorageKey = "travel_planner_trips"

// Local is the device-local TripStore. It serves a single implicit user, so
// the identity passed to each operation is ignored. Operations are strictly
// serial: each mutation persists the whole collection and only then swaps
// the mirror, so a failed write leaves the last good state in place and the
// newest successful write is immediately visible.
type Local struct {
	kv  repo.KV
	key string
	log *slog.Logger
	now func() time.Time

	mu    sync.Mutex
	trips []domain.Trip
	subs  broadcaster
}

var _ TripStore = (*Local)(nil)

// NewLocal loads the collection stored under key and returns a store
// mirroring it. A missing key starts an empty collection.
func NewLocal(ctx context.Context, kv repo.KV, key string, logger *slog.Logger) (*Local, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store.NewLocal: %w", err)
	}

	trips := []domain.Trip{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &trips); err != nil {
			return nil, fmt.Errorf("store.NewLocal: decode %q: %w", key, err)
		}
	}
	for i := range trips {
		trips[i].Normalize()
	}
	logger.Info("local trip store loaded", "key", key, "trips", len(trips))

	return &Local{kv: kv, key: key, log: logger, now: time.Now, trips: trips}, nil
}

// List returns a copy of every stored trip.
func (l *Local) List(_ context.Context, _ domain.Identity) ([]domain.Trip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CloneTrips(l.trips), nil
}

// Get returns a copy of the trip with the given ID.
func (l *Local) Get(_ context.Context, _ domain.Identity, id uuid.UUID) (domain.Trip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := indexOf(l.trips, id)
	if i < 0 {
		return domain.Trip{}, fmt.Errorf("store.Local.Get: %w", domain.ErrNotFound)
	}
	return l.trips[i].Clone(), nil
}

// Create appends trip. A client-supplied ID is kept; a nil ID is replaced
// with a fresh one.
func (l *Local) Create(ctx context.Context, _ domain.Identity, trip domain.Trip) (domain.Trip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	trip = trip.Clone()
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	} else if indexOf(l.trips, trip.ID) >= 0 {
		return domain.Trip{}, fmt.Errorf("store.Local.Create: %w: trip %s already exists", domain.ErrValidation, trip.ID)
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = l.now().UTC()
	}
	trip.Normalize()

	next := append(domain.CloneTrips(l.trips), trip)
	if err := l.commit(ctx, next); err != nil {
		return domain.Trip{}, fmt.Errorf("store.Local.Create: %w", err)
	}
	return trip.Clone(), nil
}

// Update replaces the stored trip with the same ID. The creation stamp is
// store-owned and carried over; every other field comes from trip.
func (l *Local) Update(ctx context.Context, _ domain.Identity, trip domain.Trip) error {
	replacement := trip.Clone()
	if _, err := l.modify(ctx, trip.ID, func(t *domain.Trip) error {
		*t = replacement
		return nil
	}); err != nil {
		return fmt.Errorf("store.Local.Update: %w", err)
	}
	return nil
}

// Modify edits the trip with the given ID under the store lock, so the
// read, the edit and the persist form one serial step.
func (l *Local) Modify(ctx context.Context, _ domain.Identity, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error) {
	trip, err := l.modify(ctx, id, edit)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("store.Local.Modify: %w", err)
	}
	return trip, nil
}

func (l *Local) modify(ctx context.Context, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := indexOf(l.trips, id)
	if i < 0 {
		return domain.Trip{}, domain.ErrNotFound
	}

	trip := l.trips[i].Clone()
	if err := edit(&trip); err != nil {
		return domain.Trip{}, err
	}
	trip.ID = id
	trip.CreatedAt = l.trips[i].CreatedAt
	trip.Normalize()

	next := domain.CloneTrips(l.trips)
	next[i] = trip
	if err := l.commit(ctx, next); err != nil {
		return domain.Trip{}, err
	}
	return trip.Clone(), nil
}

// Delete removes the trip with the given ID together with its itinerary
// and expenses.
func (l *Local) Delete(ctx context.Context, _ domain.Identity, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := indexOf(l.trips, id)
	if i < 0 {
		return fmt.Errorf("store.Local.Delete: %w", domain.ErrNotFound)
	}

	next := make([]domain.Trip, 0, len(l.trips)-1)
	next = append(next, l.trips[:i]...)
	next = append(next, l.trips[i+1:]...)
	if err := l.commit(ctx, next); err != nil {
		return fmt.Errorf("store.Local.Delete: %w", err)
	}
	return nil
}

// Subscribe delivers the current collection immediately and again after
// every successful mutation.
func (l *Local) Subscribe(ctx context.Context, _ domain.Identity) (<-chan []domain.Trip, error) {
	l.mu.Lock()
	id, ch := l.subs.add(l.trips)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.subs.remove(id)
	}()
	return ch, nil
}

// commit persists next as the whole collection, then makes it the mirror
// and notifies subscribers. Callers hold l.mu.
func (l *Local) commit(ctx context.Context, next []domain.Trip) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := l.kv.Set(ctx, l.key, string(raw)); err != nil {
		l.log.ErrorContext(ctx, "persist trips failed", "key", l.key, "error", err)
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	l.trips = next
	l.subs.publish(next)
	return nil
}
