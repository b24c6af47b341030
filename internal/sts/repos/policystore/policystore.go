package policystore

import (
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	bbolt "go.etcd.io/bbolt"

	"github.com/httpsfirst/stsguard/internal/sts/domain"
)

var bucketPolicy = []byte("policy")

const (
	// Target false-positive rate for the miss filter. A false positive
	// only costs one extra disk read.
	filterFPRate = 0.001

	// Headroom above the current key count so a store can absorb writes
	// without immediate filter saturation.
	filterHeadroom = 64
)

// Store is the durable record of user intent: one entry per host the user
// explicitly declared enforcement for. It survives restarts via a Bolt
// database and is lazily initialized to empty on first open.
//
// Status checks run on every navigation and almost all hosts carry no
// user policy, so a Bloom filter over the key set short-circuits misses
// without touching disk. The filter is additive; deletes trigger a
// rebuild since Bloom filters cannot remove members.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	filter *bloom.BloomFilter
}

// Open opens (or creates) the policy database at path, ensures the policy
// bucket exists, and seeds the miss filter from the existing key set.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPolicy)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init policy store: %w", err)
	}
	s := &Store{db: db}
	if err := s.rebuildFilter(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the entry for the exact host, if the user declared one.
func (s *Store) Get(host string) (domain.PolicyEntry, bool, error) {
	s.mu.RLock()
	f := s.filter
	s.mu.RUnlock()
	if f != nil && !f.TestString(host) {
		return domain.PolicyEntry{}, false, nil
	}

	var entry domain.PolicyEntry
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPolicy)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(host))
		if v == nil {
			return nil
		}
		found = true
		entry.IncludeSubdomains = len(v) > 0 && v[0] == 1
		return nil
	})
	return entry, found, err
}

// Put writes or replaces the entry for host.
func (s *Store) Put(host string, entry domain.PolicyEntry) error {
	v := []byte{0}
	if entry.IncludeSubdomains {
		v[0] = 1
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPolicy).Put([]byte(host), v)
	}); err != nil {
		return err
	}
	s.mu.Lock()
	if s.filter != nil {
		s.filter.AddString(host)
	}
	s.mu.Unlock()
	return nil
}

// Delete removes the entry for host. Removing an absent host is not an
// error.
func (s *Store) Delete(host string) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPolicy).Delete([]byte(host))
	}); err != nil {
		return err
	}
	return s.rebuildFilter()
}

// Visit calls fn for every stored entry. Returning false from fn stops
// the iteration. Entry order is the store's key order and carries no
// meaning for callers.
func (s *Store) Visit(fn func(host string, entry domain.PolicyEntry) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPolicy)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entry := domain.PolicyEntry{IncludeSubdomains: len(v) > 0 && v[0] == 1}
			if !fn(string(k), entry) {
				return nil
			}
		}
		return nil
	})
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	var n int
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketPolicy); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// rebuildFilter replaces the miss filter with one sized for the current
// key set.
func (s *Store) rebuildFilter() error {
	n := s.Len()
	f := bloom.NewWithEstimates(uint(n)+filterHeadroom, filterFPRate)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPolicy)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			f.AddString(string(k))
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("rebuild policy filter: %w", err)
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	return nil
}
