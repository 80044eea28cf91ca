package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketProvisioning = []byte("provisioning")
	bucketHistory      = []byte("history")
	keyProvisioning    = []byte("network")
)

// DefaultHistoryLimit caps the number of journal entries kept on disk.
const DefaultHistoryLimit = 500

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db           *bolt.DB
	historyLimit int
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketProvisioning, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, historyLimit: DefaultHistoryLimit}, nil
}

// SetHistoryLimit changes how many journal entries are retained. Values
// below 1 are ignored.
func (s *BoltStore) SetHistoryLimit(n int) {
	if n > 0 {
		s.historyLimit = n
	}
}

func (s *BoltStore) SaveProvisioning(p *Provisioning) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProvisioning)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProvisioning)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(keyProvisioning, data)
	})
}

func (s *BoltStore) GetProvisioning() (*Provisioning, error) {
	var p Provisioning
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProvisioning)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProvisioning)
		}
		data := b.Get(keyProvisioning)
		if data == nil {
			return fmt.Errorf("provisioning: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ClearProvisioning() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProvisioning)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketProvisioning)
		}
		return b.Delete(keyProvisioning)
	})
}

// AppendHistory assigns e.Seq and stores it, dropping the oldest entries
// beyond the history limit.
func (s *BoltStore) AppendHistory(e *HistoryEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketHistory)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.historyLimit; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListHistory returns up to limit of the most recent entries, oldest first.
// A limit below 1 returns everything.
func (s *BoltStore) ListHistory(limit int) ([]*HistoryEntry, error) {
	var entries []*HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) == limit {
				break
			}
			var e HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
