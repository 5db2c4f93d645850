package ids

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/someip-core/pkg/someip"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketUsedIDs  = []byte("used_ids")
	bucketMeta     = []byte("meta")
	keyRoutingHost = []byte("routing_host")
)

// Store persists the used-client-id set and routing-host election for a
// single network. Implemented by BoltStore; a network's db file is the
// cross-process lock vsomeip achieves with a flock'd shared-memory segment.
type Store interface {
	// Load returns every currently-used client id keyed by the app name
	// that holds it, plus the elected routing host if one has been set.
	Load() (used map[someip.ClientID]string, routingHost someip.ClientID, hasRoutingHost bool, err error)
	Put(id someip.ClientID, app string) error
	Delete(id someip.ClientID) error
	SetRoutingHost(id someip.ClientID) error
	Clear() error
	Close() error
}

// BoltStore is the bbolt-backed Store, grounded on the teacher's
// pkg/storage.BoltStore bucket-per-entity layout.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) the client-id database for
// network at <runDir>/<network>.clientids.db.
func OpenBoltStore(runDir, network string) (*BoltStore, error) {
	path := filepath.Join(runDir, network+".clientids.db")

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ids: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsedIDs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ids: init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (map[someip.ClientID]string, someip.ClientID, bool, error) {
	used := make(map[someip.ClientID]string)
	var routingHost someip.ClientID
	var hasRoutingHost bool

	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketUsedIDs); b != nil {
			err := b.ForEach(func(k, v []byte) error {
				if len(k) != 2 {
					return nil
				}
				used[someip.ClientID(binary.BigEndian.Uint16(k))] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		if m := tx.Bucket(bucketMeta); m != nil {
			if raw := m.Get(keyRoutingHost); len(raw) == 2 {
				routingHost = someip.ClientID(binary.BigEndian.Uint16(raw))
				hasRoutingHost = true
			}
		}
		return nil
	})
	return used, routingHost, hasRoutingHost, err
}

func (s *BoltStore) Put(id someip.ClientID, app string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := clientIDKey(id)
		return tx.Bucket(bucketUsedIDs).Put(key, []byte(app))
	})
}

func (s *BoltStore) Delete(id someip.ClientID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsedIDs).Delete(clientIDKey(id))
	})
}

func (s *BoltStore) SetRoutingHost(id someip.ClientID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyRoutingHost, clientIDKey(id))
	})
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketUsedIDs); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		if _, err := tx.CreateBucket(bucketUsedIDs); err != nil {
			return err
		}
		if err := tx.DeleteBucket(bucketMeta); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketMeta)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func clientIDKey(id someip.ClientID) []byte {
	key := make([]byte, 2)
	binary.BigEndian.PutUint16(key, uint16(id))
	return key
}
