package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"boundq/internal/runner"
)

const (
	BucketRuns = "runs"
	BucketIDs  = "ids"
)

var ErrNotFound = errors.New("record not found")

// Record is one finished batch. Raw outcomes are not stored.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Transport string         `json:"transport,omitempty"`
	Method    string         `json:"method,omitempty"`
	Config    runner.Config  `json:"config"`
	Summary   runner.Summary `json:"summary"`
}

// NewRecord stamps a result with a fresh id and the current time.
func NewRecord(res *runner.Result, transport, method string) Record {
	return Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Transport: transport,
		Method:    method,
		Config:    res.Config,
		Summary:   res.Summary,
	}
}

// Store keeps run history in a bbolt file. Runs are keyed by timestamp so cursors
// walk them in time order; the ids bucket maps record id to that key.
type Store struct {
	db   *bbolt.DB
	path string
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIDs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := timeKey(rec.Timestamp, rec.ID)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(BucketRuns)).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket([]byte(BucketIDs)).Put([]byte(rec.ID), key)
	})
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	var items []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			items = append(items, rec)
			if limit > 0 && len(items) == limit {
				break
			}
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(BucketIDs)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Prune deletes records older than cutoff and reports how many were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		ids := tx.Bucket([]byte(BucketIDs))
		limit := timeKey(cutoff, "")

		var stale [][]byte
		c := runs.Cursor()
		for k, v := c.First(); k != nil && string(k) < string(limit); k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err == nil {
				if err := ids.Delete([]byte(rec.ID)); err != nil {
					return err
				}
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := runs.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// timeKey sorts lexically in time order.
func timeKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d-%s", t.UnixNano(), id))
}
