// Package journal persists which recipients this agent has already attempted
// per campaign, so a lost progress report never leads to a second send.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCampaigns = []byte("campaigns")

// Entry is the record kept for one attempted recipient
type Entry struct {
	ProfileID string    `json:"profile_id"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

// Journal is a BoltDB-backed send journal
type Journal struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the journal at path
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCampaigns); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCampaigns, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path
func (j *Journal) Path() string {
	return j.path
}

// Record stores an attempt for recipient in campaign
func (j *Journal) Record(ctx context.Context, campaign, recipient string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketCampaigns).CreateBucketIfNotExists([]byte(campaign))
		if err != nil {
			return fmt.Errorf("failed to create campaign bucket: %w", err)
		}
		return b.Put([]byte(recipient), data)
	})
}

// Attempted returns the recipients recorded for campaign
func (j *Journal) Attempted(ctx context.Context, campaign string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCampaigns).Bucket([]byte(campaign))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			seen[string(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// Get returns the entry for recipient, if any
func (j *Journal) Get(ctx context.Context, campaign, recipient string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCampaigns).Bucket([]byte(campaign))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(recipient))
		if data == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// Forget drops everything recorded for campaign
func (j *Journal) Forget(ctx context.Context, campaign string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketCampaigns).DeleteBucket([]byte(campaign))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Campaigns returns campaign ids with journal entries and their entry counts
func (j *Journal) Campaigns(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEachBucket(func(k []byte) error {
			counts[string(k)] = tx.Bucket(bucketCampaigns).Bucket(k).Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Prune drops campaigns not in keep and returns the dropped ids
func (j *Journal) Prune(ctx context.Context, keep map[string]bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dropped []string
	err := j.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketCampaigns)
		var stale [][]byte
		if err := root.ForEachBucket(func(k []byte) error {
			if !keep[string(k)] {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := root.DeleteBucket(k); err != nil {
				return err
			}
			dropped = append(dropped, string(k))
		}
		return nil
	})
	sort.Strings(dropped)
	return dropped, err
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
