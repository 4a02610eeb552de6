package dispatch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSubscriptions = []byte("subscriptions")

// BoltSubscriptionStore is a bbolt-backed SubscriptionStore: one bucket,
// one JSON value per subscriptionId, keyed by subscriptionId. Grounded on
// cuemby-warren's BoltStore (pkg/storage/boltdb.go): same
// marshal-into-bucket, Get/Put/Delete/ForEach pattern, generalized from
// several record kinds down to the one this module persists. bbolt commits
// fsync by default, so a crash mid-write cannot leave a torn record —
// resolving spec §9's persistence-durability open question in favor of
// surviving a crash, not just a graceful restart.
type BoltSubscriptionStore struct {
	db *bolt.DB
}

// NewBoltSubscriptionStore opens (creating if absent) a bbolt database
// under dataDir and ensures the subscriptions bucket exists.
func NewBoltSubscriptionStore(dataDir string) (*BoltSubscriptionStore, error) {
	dbPath := filepath.Join(dataDir, "subscriptions.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltSubscriptionStore: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSubscriptions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltSubscriptionStore: create bucket: %w", err)
	}

	return &BoltSubscriptionStore{db: db}, nil
}

func (s *BoltSubscriptionStore) Save(rec PersistedSubscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("boltSubscriptionStore: marshal %s: %w", rec.Request.SubscriptionID, err)
		}
		return b.Put([]byte(rec.Request.SubscriptionID), data)
	})
}

func (s *BoltSubscriptionStore) Delete(subscriptionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		return b.Delete([]byte(subscriptionID))
	})
}

func (s *BoltSubscriptionStore) LoadAll() ([]PersistedSubscription, error) {
	var records []PersistedSubscription
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions)
		return b.ForEach(func(k, v []byte) error {
			var rec PersistedSubscription
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("boltSubscriptionStore: unmarshal %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

func (s *BoltSubscriptionStore) Close() error {
	return s.db.Close()
}
