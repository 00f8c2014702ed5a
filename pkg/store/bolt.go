package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	kvBucket      = []byte("kv")
)

// boltBackend is the embedded, on-disk fallback store. bbolt serializes
// all writers internally, so there is no separate writer mutex here —
// this is the "fallback backend is serialized by a single writer lock"
// requirement, satisfied by bbolt's own file lock.
type boltBackend struct {
	db  *bbolt.DB
	cap int
}

func openBolt(path string, cap int) (*boltBackend, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open fallback store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init fallback buckets: %w", err)
	}
	return &boltBackend{db: db, cap: cap}, nil
}

func recordKey(conversationID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("conv/%s/%020d", conversationID, seq))
}

func recordPrefix(conversationID string) []byte {
	return []byte(fmt.Sprintf("conv/%s/", conversationID))
}

// append writes rec under a fresh sequence key and prunes the oldest
// entries for that conversation down to cap, inside one transaction —
// the "pruning executed inside the same logical write" requirement.
func (b *boltBackend) append(rec Record, seq uint64) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		if err := bucket.Put(recordKey(rec.ConversationID, seq), payload); err != nil {
			return err
		}
		return pruneLocked(bucket, rec.ConversationID, b.cap)
	})
}

func pruneLocked(bucket *bbolt.Bucket, conversationID string, cap int) error {
	prefix := recordPrefix(conversationID)
	var keys [][]byte
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= cap {
		return nil
	}
	// Keys are zero-padded sequence numbers, so lexicographic order from
	// the cursor is already insertion order; drop the oldest excess.
	excess := len(keys) - cap
	for _, k := range keys[:excess] {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// tail returns up to limit records for conversationID, oldest first.
func (b *boltBackend) tail(conversationID string, limit int) ([]Record, error) {
	prefix := recordPrefix(conversationID)
	var out []Record

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (b *boltBackend) put(key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
}

func (b *boltBackend) get(key string) (string, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if value == nil {
		return "", false, nil
	}
	return string(value), true, nil
}

func (b *boltBackend) delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

func (b *boltBackend) close() error {
	return b.db.Close()
}

// maxSeq scans for the highest sequence number already stored for
// conversationID, so a reopened store keeps appending rather than
// restarting sequence numbers at zero and colliding with kept records.
func (b *boltBackend) maxSeq(conversationID string) (uint64, error) {
	prefix := recordPrefix(conversationID)
	var seqs []uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var seq uint64
			if _, err := fmt.Sscanf(string(k[len(prefix):]), "%020d", &seq); err == nil {
				seqs = append(seqs, seq)
			}
		}
		return nil
	})
	if err != nil || len(seqs) == 0 {
		return 0, err
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs[len(seqs)-1], nil
}
