package pending

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltStore persists the pending table to a bbolt database, one bucket per
// worker type keyed by messageId; Delete removes an entry, so the file
// holds only what is still pending. It exists to satisfy the spec's open
// question on crash-persistence: disabled by default, opted into by
// supplying a non-empty Config.PersistencePath to the supervisor.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("pending: open bbolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func bucketName(workerType string) []byte {
	return []byte("pending:" + workerType)
}

// Put implements Store.
func (s *BoltStore) Put(workerType string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(workerType))
		if err != nil {
			return err
		}
		return b.Put([]byte(e.MessageID), data)
	})
}

// Delete implements Store.
func (s *BoltStore) Delete(workerType, messageID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(workerType))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(messageID))
	})
}

// List implements Store, returning entries in the order bbolt stores keys
// (lexicographic by messageID, not insertion order — Table.Restore sorts
// the result on EnqueuedAt).
func (s *BoltStore) List(workerType string) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(workerType))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
