package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/repo"
	"github.com/mkjmk-alt/travel-planner/internal/store"
)

// fakeDocs is an in-memory repo.TripRepo keyed by owner. onWrite plays the
// part of the NOTIFY trigger and runs after every successful write.
type fakeDocs struct {
	mu      sync.Mutex
	byOwner map[string][]domain.Trip
	listErr error
	mutErr  error
	onWrite func(ownerID string)

	lists atomic.Int32
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{byOwner: map[string][]domain.Trip{}}
}

func (f *fakeDocs) Create(_ context.Context, ownerID string, trip domain.Trip) (domain.Trip, error) {
	f.mu.Lock()
	if f.mutErr != nil {
		f.mu.Unlock()
		return domain.Trip{}, f.mutErr
	}
	trip.ID = uuid.New()
	trip.CreatedAt = time.Now().UTC()
	f.byOwner[ownerID] = append(f.byOwner[ownerID], trip.Clone())
	f.mu.Unlock()

	f.written(ownerID)
	return trip, nil
}

// put stores trip for ownerID without announcing it, like a write that
// lands while nothing is listening.
func (f *fakeDocs) put(ownerID string, trip domain.Trip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trip.ID = uuid.New()
	trip.CreatedAt = time.Now().UTC()
	f.byOwner[ownerID] = append(f.byOwner[ownerID], trip)
}

func (f *fakeDocs) ListByOwner(_ context.Context, ownerID string) ([]domain.Trip, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return domain.CloneTrips(f.byOwner[ownerID]), nil
}

func (f *fakeDocs) Update(_ context.Context, ownerID string, trip domain.Trip) (domain.Trip, error) {
	f.mu.Lock()
	if f.mutErr != nil {
		f.mu.Unlock()
		return domain.Trip{}, f.mutErr
	}
	trips := f.byOwner[ownerID]
	for i := range trips {
		if trips[i].ID == trip.ID {
			trip.CreatedAt = trips[i].CreatedAt
			trips[i] = trip.Clone()
			f.mu.Unlock()
			f.written(ownerID)
			return trip, nil
		}
	}
	f.mu.Unlock()
	return domain.Trip{}, domain.ErrNotFound
}

func (f *fakeDocs) Modify(_ context.Context, ownerID string, id uuid.UUID, edit func(*domain.Trip) error) (domain.Trip, error) {
	f.mu.Lock()
	if f.mutErr != nil {
		f.mu.Unlock()
		return domain.Trip{}, f.mutErr
	}
	trips := f.byOwner[ownerID]
	for i := range trips {
		if trips[i].ID == id {
			trip := trips[i].Clone()
			if err := edit(&trip); err != nil {
				f.mu.Unlock()
				return domain.Trip{}, err
			}
			trip.ID = id
			trip.CreatedAt = trips[i].CreatedAt
			trips[i] = trip.Clone()
			f.mu.Unlock()
			f.written(ownerID)
			return trip, nil
		}
	}
	f.mu.Unlock()
	return domain.Trip{}, domain.ErrNotFound
}

func (f *fakeDocs) Delete(_ context.Context, ownerID string, id uuid.UUID) error {
	f.mu.Lock()
	if f.mutErr != nil {
		f.mu.Unlock()
		return f.mutErr
	}
	trips := f.byOwner[ownerID]
	for i := range trips {
		if trips[i].ID == id {
			f.byOwner[ownerID] = append(trips[:i:i], trips[i+1:]...)
			f.mu.Unlock()
			f.written(ownerID)
			return nil
		}
	}
	f.mu.Unlock()
	return domain.ErrNotFound
}

func (f *fakeDocs) written(ownerID string) {
	if f.onWrite != nil {
		f.onWrite(ownerID)
	}
}

func (f *fakeDocs) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// compile-time check: fakeDocs must satisfy repo.TripRepo.
var _ repo.TripRepo = (*fakeDocs)(nil)

// fakeChanges is a store.Changes driven by the test. Each Listen call pops
// the next entry of failures; when none are left it runs beforeReady, reports
// ready, and blocks until ctx ends.
type fakeChanges struct {
	mu          sync.Mutex
	onChange    func(string)
	failures    []error
	beforeReady func()
	listens     atomic.Int32
}

func (f *fakeChanges) Listen(ctx context.Context, onReady func(), onChange func(string)) error {
	f.listens.Add(1)
	f.mu.Lock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return err
	}
	beforeReady := f.beforeReady
	f.mu.Unlock()

	if beforeReady != nil {
		beforeReady()
	}
	onReady()

	f.mu.Lock()
	f.onChange = onChange
	f.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// fire delivers a notification for ownerID if a listener is connected.
func (f *fakeChanges) fire(ownerID string) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb(ownerID)
	}
}

func (f *fakeChanges) connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onChange != nil
}

// compile-time check: fakeChanges must satisfy store.Changes.
var _ store.Changes = (*fakeChanges)(nil)

// ---- helpers ---------------------------------------------------------------

var (
	alice = domain.Identity{UserID: "user-a"}
	bob   = domain.Identity{UserID: "user-b"}
)

// newRemote starts a Remote wired to docs and a connected fake feed. When
// wireTrigger is true every write to docs is announced on the feed.
func newRemote(t *testing.T, docs *fakeDocs, idleTTL time.Duration, wireTrigger bool) (*store.Remote, *fakeChanges) {
	t.Helper()
	changes := &fakeChanges{}
	if wireTrigger {
		docs.onWrite = changes.fire
	}
	r := store.NewRemote(docs, changes, idleTTL, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		r.Close()
	})

	require.Eventually(t, changes.connected, time.Second, 5*time.Millisecond)
	return r, changes
}

func listTitles(t *testing.T, r *store.Remote, who domain.Identity) []string {
	t.Helper()
	trips, err := r.List(context.Background(), who)
	require.NoError(t, err)
	titles := make([]string, len(trips))
	for i, tr := range trips {
		titles[i] = tr.Title
	}
	return titles
}

// ---- Mirror ----------------------------------------------------------------

func TestRemote_CreateIsEventuallyVisible(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx := context.Background()

	assert.Empty(t, listTitles(t, r, alice))

	created, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	require.Eventually(t, func() bool {
		_, err := r.Get(ctx, alice, created.ID)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestRemote_Create_DropsClientID(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)

	trip := tripFixture()
	trip.ID = uuid.New()
	created, err := r.Create(context.Background(), alice, trip)

	require.NoError(t, err)
	assert.NotEqual(t, trip.ID, created.ID)
}

func TestRemote_MutationsDoNotTouchMirror(t *testing.T) {
	docs := newFakeDocs()
	r, changes := newRemote(t, docs, time.Minute, false)
	ctx := context.Background()

	assert.Empty(t, listTitles(t, r, alice))

	_, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)

	// No notification yet: the mirror still shows the old state.
	assert.Empty(t, listTitles(t, r, alice))

	changes.fire(alice.UserID)
	require.Eventually(t, func() bool {
		return len(listTitles(t, r, alice)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRemote_UpdateAndDelete(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx := context.Background()

	created, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)

	renamed := created
	renamed.Title = "Nara day trip"
	require.NoError(t, r.Update(ctx, alice, renamed))
	require.Eventually(t, func() bool {
		got, err := r.Get(ctx, alice, created.ID)
		return err == nil && got.Title == "Nara day trip"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Delete(ctx, alice, created.ID))
	require.Eventually(t, func() bool {
		_, err := r.Get(ctx, alice, created.ID)
		return errors.Is(err, domain.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestRemote_OwnersAreIsolated(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx := context.Background()

	created, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(listTitles(t, r, alice)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, listTitles(t, r, bob))
	_, err = r.Get(ctx, bob, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, bob, created.ID), domain.ErrNotFound)
}

// ---- Failures --------------------------------------------------------------

func TestRemote_LoadFailure_ClearsLoading(t *testing.T) {
	docs := newFakeDocs()
	docs.setListErr(errors.New("permission denied"))
	r, _ := newRemote(t, docs, time.Minute, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	trips, err := r.List(ctx, alice)

	require.NoError(t, err)
	assert.Empty(t, trips)
}

func TestRemote_LoadFailure_KeepsLastGoodState(t *testing.T) {
	docs := newFakeDocs()
	r, changes := newRemote(t, docs, time.Minute, true)
	ctx := context.Background()

	_, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(listTitles(t, r, alice)) == 1
	}, time.Second, 5*time.Millisecond)

	before := docs.lists.Load()
	docs.setListErr(errors.New("network down"))
	changes.fire(alice.UserID)
	require.Eventually(t, func() bool { return docs.lists.Load() > before }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Kyoto in autumn"}, listTitles(t, r, alice))
}

func TestRemote_MutationFailure_IsUnavailable(t *testing.T) {
	docs := newFakeDocs()
	docs.mutErr = errors.New("connection refused")
	r, _ := newRemote(t, docs, time.Minute, true)
	ctx := context.Background()

	_, err := r.Create(ctx, alice, tripFixture())
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	trip := tripFixture()
	trip.ID = uuid.New()
	assert.ErrorIs(t, r.Update(ctx, alice, trip), domain.ErrUnavailable)
	assert.ErrorIs(t, r.Delete(ctx, alice, trip.ID), domain.ErrUnavailable)
	_, err = r.Modify(ctx, alice, trip.ID, func(*domain.Trip) error { return nil })
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestRemote_Modify(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx := context.Background()

	created, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)

	got, err := r.Modify(ctx, alice, created.ID, func(trip *domain.Trip) error {
		trip.Title = "Nara day trip"
		trip.ID = uuid.New()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID, "ID survives the edit")
	assert.Equal(t, "Nara day trip", got.Title)
	require.Eventually(t, func() bool {
		trip, err := r.Get(ctx, alice, created.ID)
		return err == nil && trip.Title == "Nara day trip"
	}, time.Second, 5*time.Millisecond)
}

func TestRemote_Modify_EditErrorPassesThrough(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx := context.Background()

	created, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)

	_, err = r.Modify(ctx, alice, created.ID, func(*domain.Trip) error {
		return fmt.Errorf("item: %w", domain.ErrNotFound)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)

	_, err = r.Modify(ctx, alice, created.ID, func(*domain.Trip) error { return domain.ErrValidation })
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}

func TestRemote_Modify_OtherOwnerNotFound(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx := context.Background()

	created, err := r.Create(ctx, alice, tripFixture())
	require.NoError(t, err)

	_, err = r.Modify(ctx, bob, created.ID, func(*domain.Trip) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemote_Update_NotFound(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)

	trip := tripFixture()
	trip.ID = uuid.New()
	err := r.Update(context.Background(), alice, trip)

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}

// ---- Signed out ------------------------------------------------------------

func TestRemote_SignedOut(t *testing.T) {
	docs := newFakeDocs()
	r, _ := newRemote(t, docs, time.Minute, true)
	ctx := context.Background()
	nobody := domain.Identity{}

	trips, err := r.List(ctx, nobody)
	require.NoError(t, err)
	assert.Empty(t, trips)

	created, err := r.Create(ctx, nobody, tripFixture())
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, created.ID)

	trip := tripFixture()
	trip.ID = uuid.New()
	assert.NoError(t, r.Update(ctx, nobody, trip))
	assert.NoError(t, r.Delete(ctx, nobody, trip.ID))
	modified, err := r.Modify(ctx, nobody, trip.ID, func(*domain.Trip) error {
		t.Fatal("edit must not run without an identity")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, modified.ID)

	sub, cancel := context.WithCancel(ctx)
	ch, err := r.Subscribe(sub, nobody)
	require.NoError(t, err)
	assert.Empty(t, next(t, ch))
	cancel()
	requireClosed(t, ch)

	assert.Zero(t, docs.lists.Load(), "no query runs without an identity")
}

// ---- Subscribe -------------------------------------------------------------

func TestRemote_Subscribe_FollowsMirror(t *testing.T) {
	r, _ := newRemote(t, newFakeDocs(), time.Minute, true)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := r.Subscribe(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, next(t, ch), "initial load")

	created, err := r.Create(context.Background(), alice, tripFixture())
	require.NoError(t, err)
	snapshot := next(t, ch)
	require.Len(t, snapshot, 1)
	assert.Equal(t, created.ID, snapshot[0].ID)

	cancel()
	requireClosed(t, ch)
}

func TestRemote_Subscribe_FirstLoadFailurePublishesEmpty(t *testing.T) {
	docs := newFakeDocs()
	docs.setListErr(errors.New("permission denied"))
	r, _ := newRemote(t, docs, time.Minute, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.Subscribe(ctx, alice)
	require.NoError(t, err)

	assert.Empty(t, next(t, ch))
}

func TestRemote_Close_ClosesSubscriptions(t *testing.T) {
	docs := newFakeDocs()
	r := store.NewRemote(docs, &fakeChanges{}, time.Minute, discardLogger())

	ch, err := r.Subscribe(context.Background(), alice)
	require.NoError(t, err)

	r.Close()
	requireClosed(t, ch)
}

// ---- Lifecycle -------------------------------------------------------------

func TestRemote_IdleMirrorIsEvicted(t *testing.T) {
	docs := newFakeDocs()
	r, _ := newRemote(t, docs, 10*time.Millisecond, true)

	listTitles(t, r, alice)
	require.EqualValues(t, 1, docs.lists.Load())

	time.Sleep(100 * time.Millisecond)

	// The mirror was torn down, so the next read starts a fresh query.
	listTitles(t, r, alice)
	assert.EqualValues(t, 2, docs.lists.Load())
}

func TestRemote_SubscribedMirrorIsKept(t *testing.T) {
	docs := newFakeDocs()
	r, _ := newRemote(t, docs, 10*time.Millisecond, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.Subscribe(ctx, alice)
	require.NoError(t, err)
	next(t, ch)

	time.Sleep(100 * time.Millisecond)

	listTitles(t, r, alice)
	assert.EqualValues(t, 1, docs.lists.Load())
}

func TestRemote_Run_ReconnectsAndRefreshes(t *testing.T) {
	docs := newFakeDocs()
	changes := &fakeChanges{failures: []error{errors.New("connection reset")}}
	docs.onWrite = changes.fire
	r := store.NewRemote(docs, changes, time.Minute, discardLogger())
	t.Cleanup(r.Close)

	// Hold a subscription so the mirror stays live across the reconnect.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Subscribe(ctx, alice)
	require.NoError(t, err)
	next(t, ch)
	loads := docs.lists.Load()

	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, changes.connected, 3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, changes.listens.Load())
	require.Eventually(t, func() bool { return docs.lists.Load() > loads }, time.Second, 5*time.Millisecond)
}

// A write that commits after the mirror loaded but before the feed is
// listening sends no notification; the refresh on ready must pick it up.
func TestRemote_Run_RefreshesOnFirstConnect(t *testing.T) {
	docs := newFakeDocs()
	changes := &fakeChanges{}
	changes.beforeReady = func() { docs.put(alice.UserID, tripFixture()) }
	r := store.NewRemote(docs, changes, time.Minute, discardLogger())
	t.Cleanup(r.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Subscribe(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, next(t, ch), "initial load")

	go func() { _ = r.Run(ctx) }()

	assert.Len(t, next(t, ch), 1)
}

func TestRemote_Run_RefreshesAfterReconnectWrite(t *testing.T) {
	docs := newFakeDocs()
	changes := &fakeChanges{failures: []error{errors.New("connection reset")}}
	var writes atomic.Int32
	changes.beforeReady = func() {
		// Only the reconnect: the first Listen fails before it gets here.
		writes.Add(1)
		docs.put(alice.UserID, tripFixture())
	}
	r := store.NewRemote(docs, changes, time.Minute, discardLogger())
	t.Cleanup(r.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Subscribe(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, next(t, ch), "initial load")

	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, changes.connected, 3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, writes.Load())
	require.Eventually(t, func() bool {
		return len(listTitles(t, r, alice)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRemote_Run_StopsOnCancel(t *testing.T) {
	r := store.NewRemote(newFakeDocs(), &fakeChanges{}, time.Minute, discardLogger())
	t.Cleanup(r.Close)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
