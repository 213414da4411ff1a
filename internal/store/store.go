// Package store owns the canonical, in-memory mirror of the user's trips
// and mediates every write to the backing store.
//
// Two implementations share the TripStore contract: Local keeps the whole
// collection as one JSON blob in device-local storage and updates its
// mirror synchronously; Remote keeps one document per trip in Postgres and
// updates per-user mirrors only when the change feed reports a write.
// Consumers only ever receive copies of the mirror.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// TripStore is the contract both backing-store variants satisfy.
type TripStore interface {
	// List returns the current mirror for who. It is empty, not an error,
	// when nobody is signed in or no trips exist.
	List(ctx context.Context, who domain.Identity) ([]domain.Trip, error)

	// Get looks id up in the mirror only. Returns domain.ErrNotFound when absent.
	Get(ctx context.Context, who domain.Identity, id uuid.UUID) (domain.Trip, error)

	// Create persists a new trip and returns it with its identifier and
	// creation stamp assigned.
	Create(ctx context.Context, who domain.Identity, trip domain.Trip) (domain.Trip, error)

	// Update replaces the stored record with the same ID by trip as a whole.
	Update(ctx context.Context, who domain.Identity, trip domain.Trip) error

	// Modify applies edit to the stored trip with the given ID and persists
	// the result as a whole-record replace, atomically: no other write to
	// that trip lands between the read and the write. An error from edit
	// aborts the change and is returned as is. The ID and creation stamp
	// are store-owned and survive any edit. Returns domain.ErrNotFound when
	// the trip does not exist.
	Modify(ctx context.Context, who domain.Identity, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error)

	// Delete removes the trip with the given ID.
	Delete(ctx context.Context, who domain.Identity, id uuid.UUID) error

	// Subscribe delivers the current snapshot and then every new one until
	// ctx ends, at which point the channel is closed. Delivery is
	// latest-wins: a slow reader skips intermediate snapshots.
	Subscribe(ctx context.Context, who domain.Identity) (<-chan []domain.Trip, error)
}

// broadcaster fans mirror snapshots out to subscribers.
type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan []domain.Trip
}

// add registers a subscriber. When initial is non-nil it is queued as the
// first snapshot.
func (b *broadcaster) add(initial []domain.Trip) (int, <-chan []domain.Trip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan []domain.Trip)
	}
	ch := make(chan []domain.Trip, 1)
	if initial != nil {
		ch <- domain.CloneTrips(initial)
	}
	b.next++
	b.subs[b.next] = ch
	return b.next, ch
}

// remove unregisters and closes a subscriber. Unknown IDs are ignored.
func (b *broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// publish replaces whatever snapshot a subscriber has not read yet with a
// copy of snapshot. Sends never block: every channel has room for one value
// and only publish sends, under b.mu.
func (b *broadcaster) publish(snapshot []domain.Trip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- domain.CloneTrips(snapshot)
	}
}

// closeAll unregisters and closes every subscriber.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// emptySubscription serves a subscriber with no identity: one empty
// snapshot, closed when ctx ends.
func emptySubscription(ctx context.Context) <-chan []domain.Trip {
	ch := make(chan []domain.Trip, 1)
	ch <- []domain.Trip{}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func indexOf(trips []domain.Trip, id uuid.UUID) int {
	for i, t := range trips {
		if t.ID == id {
			return i
		}
	}
	return -1
}
