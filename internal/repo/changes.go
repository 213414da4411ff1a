package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TripChangesChannel is the NOTIFY channel the trips trigger publishes on.
// The payload is the owner_id of the changed row.
const TripChangesChannel = "trip_changes"

// ChangeFeed delivers trip change notifications from Postgres.
type ChangeFeed struct {
	pool    *pgxpool.Pool
	channel string
}

// NewChangeFeed constructs a ChangeFeed listening on TripChangesChannel.
func NewChangeFeed(pool *pgxpool.Pool) *ChangeFeed {
	return &ChangeFeed{pool: pool, channel: TripChangesChannel}
}

// Listen takes a dedicated connection out of the pool, subscribes to the
// channel, calls onReady once the subscription is active, and then calls
// onChange with the owner ID of every changed trip. Anything committed
// after onReady starts is guaranteed to be delivered. It blocks until ctx is cancelled or the connection fails and always
// returns a non-nil error. The connection is closed rather than returned to
// the pool so no LISTEN state leaks to other callers.
func (f *ChangeFeed) Listen(ctx context.Context, onReady func(), onChange func(ownerID string)) error {
	pc, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("repo.ChangeFeed.Listen: acquire: %w", err)
	}
	conn := pc.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("repo.ChangeFeed.Listen: listen: %w", err)
	}
	onReady()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("repo.ChangeFeed.Listen: wait: %w", err)
		}
		onChange(n.Payload)
	}
}
