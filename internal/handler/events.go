package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval is how often an idle event stream sends a comment line
// so proxies do not drop the connection.
const keepAliveInterval = 25 * time.Second

// StreamTrips handles GET /trips/events. It streams the caller's trip
// collection as Server-Sent Events: one "trips" event carrying the full
// snapshot, then another after every change, until the client disconnects.
func (s *Server) StreamTrips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshots, err := s.trips.Subscribe(ctx)
	if err != nil {
		s.writeServiceError(w, r, err, "trips not found")
		return
	}

	rc := http.NewResponseController(w)
	// The server's write timeout would cut the stream; the stream ends with
	// the request context instead.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.log.WarnContext(ctx, "event stream cannot flush", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case trips, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(trips)
			if err != nil {
				s.log.ErrorContext(ctx, "encode trips event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: trips\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
