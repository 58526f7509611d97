// Package results holds the final extraction payload of a completed job,
// separate from the progress registry: progress frames are small and
// frequent, the payload is large and fetched exactly once.
package results

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docuflow-io/docuflow/internal/cache"
)

const defaultTTL = 10 * time.Minute

// Store is a short-lived keyed store for result payloads. Reads are
// destructive: Take removes the payload, so a second Take for the same job
// reports not-found.
type Store struct {
	cache cache.Cache
	ttl   time.Duration
}

// New creates a Store over the given cache. Pass ttl 0 for the default.
func New(c cache.Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{cache: c, ttl: ttl}
}

// Put stores the payload for jobID, bounded by the store TTL.
func (s *Store) Put(ctx context.Context, jobID string, payload json.RawMessage) error {
	return s.cache.Set(ctx, cache.ResultKey(jobID), payload, s.ttl)
}

// Take retrieves and removes the payload for jobID.
func (s *Store) Take(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	val, found, err := s.cache.GetDel(ctx, cache.ResultKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	return json.RawMessage(val), true, nil
}
