package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/repo"
)

// Changes reports which owners' trips changed. *repo.ChangeFeed satisfies it.
type Changes interface {
	// Listen blocks until ctx ends or the feed fails. It calls onReady once
	// every later change is sure to be reported, then onChange for each one.
	Listen(ctx context.Context, onReady func(), onChange func(ownerID string)) error
}

const (
	minFeedBackoff = time.Second
	maxFeedBackoff = 30 * time.Second
)

// errFeedDropped ends one retry sequence after a connection that stayed up
// long enough, so the next failure starts again from minFeedBackoff.
var errFeedDropped = errors.New("change feed dropped")

// Remote is the TripStore backed by per-user documents in Postgres.
//
// Each signed-in user gets a mirror fed by a live query: one goroutine
// loads the user's trips and reloads them whenever the change feed names
// that user. Mutations go straight to the database and never touch the
// mirror, so a read right after a write can lag until the notification
// round trip completes.
//
// Mirrors are reference-counted. Every read and every subscription holds a
// reference; a mirror nobody references for idleTTL is torn down.
type Remote struct {
	docs    repo.TripRepo
	changes Changes
	log     *slog.Logger
	idleTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	mirrors map[string]*mirror
}

var _ TripStore = (*Remote)(nil)

// mirror is one user's live view of their trips.
type mirror struct {
	owner   string
	refresh chan struct{}
	loaded  chan struct{}
	cancel  context.CancelFunc

	// refs and gen are guarded by Remote.mu.
	refs int
	gen  int

	mu        sync.Mutex
	trips     []domain.Trip
	hasLoaded bool
	subs      broadcaster
}

// NewRemote constructs a Remote store. Call Run to start consuming the
// change feed and Close to stop every live query.
func NewRemote(docs repo.TripRepo, changes Changes, idleTTL time.Duration, logger *slog.Logger) *Remote {
	ctx, cancel := context.WithCancel(context.Background())
	return &Remote{
		docs:    docs,
		changes: changes,
		log:     logger,
		idleTTL: idleTTL,
		ctx:     ctx,
		cancel:  cancel,
		mirrors: make(map[string]*mirror),
	}
}

// Run consumes the change feed until ctx ends, reconnecting with
// exponential backoff when it fails. Every live mirror is reloaded as soon
// as a connection is listening, the first one included, since changes made
// while no connection was listening are never announced.
func (r *Remote) Run(ctx context.Context) error {
	for {
		backoff := retry.WithCappedDuration(maxFeedBackoff, retry.NewExponential(minFeedBackoff))
		err := retry.Do(ctx, backoff, r.listen)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, errFeedDropped) {
			return err
		}
	}
}

// listen runs one connection of the change feed.
func (r *Remote) listen(ctx context.Context) error {
	started := time.Now()
	err := r.changes.Listen(ctx, r.refreshAll, r.notify)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("change feed closed")
	}
	if time.Since(started) > maxFeedBackoff {
		r.log.Error("trip change feed dropped", "error", err)
		return fmt.Errorf("%w: %w", errFeedDropped, err)
	}
	r.log.Error("trip change feed failed", "error", err)
	return retry.RetryableError(err)
}

// Close stops every live query, closes every subscription, and waits for
// the query goroutines to exit.
func (r *Remote) Close() {
	r.cancel()
	r.wg.Wait()
}

// List returns the trips owned by who from the mirror, waiting for the initial load.
func (r *Remote) List(ctx context.Context, who domain.Identity) ([]domain.Trip, error) {
	if !who.SignedIn() {
		return []domain.Trip{}, nil
	}
	m := r.acquire(who.UserID)
	defer r.release(m)

	if err := m.wait(ctx); err != nil {
		return nil, fmt.Errorf("store.Remote.List: %w", err)
	}
	return m.snapshot(), nil
}

// Get looks id up in who's mirror.
func (r *Remote) Get(ctx context.Context, who domain.Identity, id uuid.UUID) (domain.Trip, error) {
	trips, err := r.List(ctx, who)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("store.Remote.Get: %w", err)
	}
	i := indexOf(trips, id)
	if i < 0 {
		return domain.Trip{}, fmt.Errorf("store.Remote.Get: %w", domain.ErrNotFound)
	}
	return trips[i], nil
}

// Create inserts trip as a new document owned by who. Any client-supplied
// ID is dropped: the database assigns identity and the creation stamp.
// Without an identity it does nothing.
func (r *Remote) Create(ctx context.Context, who domain.Identity, trip domain.Trip) (domain.Trip, error) {
	if !who.SignedIn() {
		r.log.DebugContext(ctx, "create ignored: not signed in")
		return domain.Trip{}, nil
	}

	trip = trip.Clone()
	trip.ID = uuid.Nil
	trip.CreatedAt = time.Time{}
	trip.Normalize()

	created, err := r.docs.Create(ctx, who.UserID, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("store.Remote.Create: %w", storeErr(err))
	}
	return created, nil
}

// Update replaces who's document for trip.ID. Without an identity it does
// nothing.
func (r *Remote) Update(ctx context.Context, who domain.Identity, trip domain.Trip) error {
	if !who.SignedIn() {
		r.log.DebugContext(ctx, "update ignored: not signed in")
		return nil
	}

	trip = trip.Clone()
	trip.Normalize()
	if _, err := r.docs.Update(ctx, who.UserID, trip); err != nil {
		return fmt.Errorf("store.Remote.Update: %w", storeErr(err))
	}
	return nil
}

// Modify edits who's document for id inside one database transaction.
// Without an identity it does nothing.
func (r *Remote) Modify(ctx context.Context, who domain.Identity, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error) {
	if !who.SignedIn() {
		r.log.DebugContext(ctx, "modify ignored: not signed in")
		return domain.Trip{}, nil
	}

	trip, err := r.docs.Modify(ctx, who.UserID, id, func(t *domain.Trip) error {
		if err := edit(t); err != nil {
			return err
		}
		t.Normalize()
		return nil
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("store.Remote.Modify: %w", storeErr(err))
	}
	return trip, nil
}

// Delete removes who's document with the given ID. Without an identity it
// does nothing.
func (r *Remote) Delete(ctx context.Context, who domain.Identity, id uuid.UUID) error {
	if !who.SignedIn() {
		r.log.DebugContext(ctx, "delete ignored: not signed in")
		return nil
	}
	if err := r.docs.Delete(ctx, who.UserID, id); err != nil {
		return fmt.Errorf("store.Remote.Delete: %w", storeErr(err))
	}
	return nil
}

// Subscribe follows who's mirror until ctx ends. The first snapshot arrives
// once the initial load has finished.
func (r *Remote) Subscribe(ctx context.Context, who domain.Identity) (<-chan []domain.Trip, error) {
	if !who.SignedIn() {
		return emptySubscription(ctx), nil
	}
	m := r.acquire(who.UserID)
	id, ch := m.subscribe()

	go func() {
		select {
		case <-ctx.Done():
		case <-r.ctx.Done():
		}
		m.subs.remove(id)
		r.release(m)
	}()
	return ch, nil
}

// storeErr keeps not-found and validation errors as they are and marks
// every other backing-store failure as domain.ErrUnavailable.
func storeErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}

// notify is the change-feed callback.
func (r *Remote) notify(ownerID string) {
	r.mu.Lock()
	m := r.mirrors[ownerID]
	r.mu.Unlock()
	if m != nil {
		m.signal()
	}
}

func (r *Remote) refreshAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mirrors {
		m.signal()
	}
}

// acquire returns owner's mirror, starting its live query if needed, and
// takes a reference on it.
func (r *Remote) acquire(owner string) *mirror {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mirrors[owner]
	if !ok {
		ctx, cancel := context.WithCancel(r.ctx)
		m = &mirror{
			owner:   owner,
			refresh: make(chan struct{}, 1),
			loaded:  make(chan struct{}),
			cancel:  cancel,
		}
		r.mirrors[owner] = m
		r.wg.Add(1)
		go r.watch(ctx, m)
	}
	m.refs++
	m.gen++
	return m
}

// release drops a reference. The last release schedules teardown after
// idleTTL; a new reference taken before then cancels it.
func (r *Remote) release(m *mirror) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m.refs--
	if m.refs > 0 {
		return
	}
	gen := m.gen
	time.AfterFunc(r.idleTTL, func() { r.evict(m, gen) })
}

func (r *Remote) evict(m *mirror, gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.refs > 0 || m.gen != gen || r.mirrors[m.owner] != m {
		return
	}
	delete(r.mirrors, m.owner)
	m.cancel()
}

// watch is the live query behind one mirror.
func (r *Remote) watch(ctx context.Context, m *mirror) {
	defer r.wg.Done()
	defer m.subs.closeAll()

	r.load(ctx, m)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.refresh:
			r.load(ctx, m)
		}
	}
}

// load re-runs the owner's query. On failure the error is logged, the
// mirror keeps its last good state, and loading is cleared so readers
// never wait forever.
func (r *Remote) load(ctx context.Context, m *mirror) {
	trips, err := r.docs.ListByOwner(ctx, m.owner)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("trip subscription failed", "owner", m.owner, "error", err)
		}
		m.fail()
		return
	}
	m.set(trips)
}

func (m *mirror) signal() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

func (m *mirror) wait(ctx context.Context) error {
	select {
	case <-m.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mirror) snapshot() []domain.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CloneTrips(m.trips)
}

func (m *mirror) subscribe() (int, <-chan []domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLoaded {
		return m.subs.add(nil)
	}
	return m.subs.add(m.trips)
}

func (m *mirror) set(trips []domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips = domain.CloneTrips(trips)
	m.subs.publish(m.trips)
	m.markLoaded()
}

// fail clears the loading state after a failed query. The first failure
// publishes the (empty) mirror so subscribers are not left waiting.
func (m *mirror) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasLoaded {
		return
	}
	m.trips = []domain.Trip{}
	m.subs.publish(m.trips)
	m.markLoaded()
}

// markLoaded is called with m.mu held.
func (m *mirror) markLoaded() {
	if !m.hasLoaded {
		m.hasLoaded = true
		close(m.loaded)
	}
}
