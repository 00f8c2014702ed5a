package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

// Recorder is the minimal telemetry sink the store needs, matching the
// same small-interface shape as bus.Recorder so either package can share
// a *telemetry.Recorder without creating an import cycle between them.
type Recorder interface {
	IncrCounter(component, name string)
}

// DefaultConversationCap is the per-conversation record cap applied
// uniformly to both backends.
const DefaultConversationCap = 100

// Config configures a Store.
type Config struct {
	// PrimaryURL is a redis:// connection string. Empty disables the
	// primary backend entirely (fallback-only mode from the start).
	PrimaryURL string
	// FallbackPath is the bbolt file path. Required.
	FallbackPath string
	// ConversationCap bounds records per conversation id. 0 uses
	// DefaultConversationCap.
	ConversationCap int
}

// Store is the dual-store persistence layer: a remote primary mirrored
// into an embedded fallback, with read-degradation on primary failure.
type Store struct {
	cap      int
	recorder Recorder
	log      *slog.Logger

	bolt *boltBackend

	redis   *redisBackend
	redisOK bool
	redisMu sync.RWMutex // guards redisOK flips after startup

	seqMu sync.Mutex
	seq   map[string]uint64
}

// New opens the fallback store at cfg.FallbackPath and, if
// cfg.PrimaryURL is set, attempts to connect to the primary. A primary
// connection failure does not fail New — the store falls back to
// fallback-only mode and logs the fact, per the spec.
func New(ctx context.Context, cfg Config, recorder Recorder) (*Store, error) {
	cap := cfg.ConversationCap
	if cap <= 0 {
		cap = DefaultConversationCap
	}

	bolt, err := openBolt(cfg.FallbackPath, cap)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cap:      cap,
		recorder: recorder,
		log:      slog.Default().With("component", "store"),
		bolt:     bolt,
		seq:      make(map[string]uint64),
	}

	if cfg.PrimaryURL != "" {
		rb, err := openRedis(cfg.PrimaryURL, cap)
		if err != nil {
			s.log.Warn("primary store unavailable, running fallback-only", "error", err)
			s.incr("primary_init_failed")
		} else if err := rb.ping(ctx); err != nil {
			s.log.Warn("primary store unavailable, running fallback-only", "error", err)
			s.incr("primary_init_failed")
		} else {
			s.redis = rb
			s.redisOK = true
		}
	}

	return s, nil
}

func (s *Store) incr(name string) {
	if s.recorder != nil {
		s.recorder.IncrCounter("store", name)
	}
}

func (s *Store) primaryAvailable() bool {
	s.redisMu.RLock()
	defer s.redisMu.RUnlock()
	return s.redis != nil && s.redisOK
}

func (s *Store) markPrimaryDown(err error) {
	s.redisMu.Lock()
	s.redisOK = false
	s.redisMu.Unlock()
	s.log.Warn("primary store write/read failed, degrading", "error", err)
	s.incr("primary_failure")
}

func (s *Store) nextSeq(conversationID string) (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	cur, ok := s.seq[conversationID]
	if !ok {
		max, err := s.bolt.maxSeq(conversationID)
		if err != nil {
			return 0, err
		}
		cur = max
	}
	cur++
	s.seq[conversationID] = cur
	return cur, nil
}

// Append persists rec to the primary (best effort) and always mirrors it
// to the fallback, pruning that conversation down to the cap. A primary
// failure alone is silent; a failed fallback write returns
// ErrStoreUnavailable even when the primary write succeeded.
func (s *Store) Append(ctx context.Context, rec Record) error {
	var primaryErr error
	if s.primaryAvailable() {
		if err := s.redis.append(ctx, rec); err != nil {
			primaryErr = err
			s.markPrimaryDown(err)
		}
	}

	seq, err := s.nextSeq(rec.ConversationID)
	if err != nil {
		return fmt.Errorf("%w: %v", pantheonerr.ErrStoreUnavailable, err)
	}

	if err := s.bolt.append(rec, seq); err != nil {
		if primaryErr != nil {
			return fmt.Errorf("%w: primary=%v fallback=%v", pantheonerr.ErrStoreUnavailable, primaryErr, err)
		}
		s.incr("fallback_append_failed")
		return fmt.Errorf("%w: %v", pantheonerr.ErrStoreUnavailable, err)
	}

	return nil
}

// Tail returns up to limit records for conversationID, oldest first,
// preferring the primary and transparently degrading to the fallback on
// primary failure.
func (s *Store) Tail(ctx context.Context, conversationID string, limit int) ([]Record, error) {
	if s.primaryAvailable() {
		recs, err := s.redis.tail(ctx, conversationID, limit)
		if err == nil {
			return recs, nil
		}
		s.markPrimaryDown(err)
	}

	recs, err := s.bolt.tail(conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pantheonerr.ErrStoreUnavailable, err)
	}
	return recs, nil
}

// Put writes key=value to the primary (best effort) and always mirrors
// to the fallback.
func (s *Store) Put(ctx context.Context, key, value string) error {
	var primaryErr error
	if s.primaryAvailable() {
		if err := s.redis.put(ctx, key, value); err != nil {
			primaryErr = err
			s.markPrimaryDown(err)
		}
	}

	if err := s.bolt.put(key, value); err != nil {
		if primaryErr != nil {
			return fmt.Errorf("%w: primary=%v fallback=%v", pantheonerr.ErrStoreUnavailable, primaryErr, err)
		}
		return fmt.Errorf("%w: %v", pantheonerr.ErrStoreUnavailable, err)
	}
	return nil
}

// Get reads key, preferring the primary and degrading to the fallback on
// primary failure.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.primaryAvailable() {
		v, ok, err := s.redis.get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		s.markPrimaryDown(err)
	}

	v, ok, err := s.bolt.get(key)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", pantheonerr.ErrStoreUnavailable, err)
	}
	return v, ok, nil
}

// Delete removes key from both backends. Only a fallback failure is
// propagated — a primary-only failure is logged and counted, matching
// the "primary-only failures are silent" rule applied to writes.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.primaryAvailable() {
		if err := s.redis.delete(ctx, key); err != nil {
			s.markPrimaryDown(err)
		}
	}
	if err := s.bolt.delete(key); err != nil {
		return fmt.Errorf("%w: %v", pantheonerr.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases both backends.
func (s *Store) Close() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.bolt.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
