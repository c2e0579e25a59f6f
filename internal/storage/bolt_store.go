package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/bbolt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BucketRuns = "runs"
	BucketIDs  = "ids"

	// MaxItems bounds the history; older runs are pruned on Save.
	MaxItems = 100
)

var ErrNotFound = errors.New("storage: run not found")

type Store struct {
	db *bbolt.DB
}

// DefaultPath is ~/.syncq/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".syncq", "history.db"), nil
}

func NewStore() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(path)
}

func NewStoreAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	// Initialize Buckets
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

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders runs by start time; the id suffix keeps equal times apart.
func runKey(item HistoryItem) []byte {
	k := make([]byte, 8, 8+len(item.ID))
	binary.BigEndian.PutUint64(k, uint64(item.Timestamp.UnixNano()))
	return append(k, item.ID...)
}

func (s *Store) Save(item HistoryItem) error {
	if item.ID == "" {
		return errors.New("storage: history item without id")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		ids := tx.Bucket([]byte(BucketIDs))

		if old := ids.Get([]byte(item.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(item)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		if err := ids.Put([]byte(item.ID), key); err != nil {
			return err
		}
		return prune(runs, ids)
	})
}

func prune(runs, ids *bbolt.Bucket) error {
	var keys [][]byte
	c := runs.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= MaxItems {
		return nil
	}

	stale := keys[:len(keys)-MaxItems]
	for _, k := range stale {
		if err := runs.Delete(k); err != nil {
			return err
		}
		if err := ids.Delete(k[8:]); err != nil {
			return err
		}
	}
	return nil
}

// List returns the stored runs, newest first.
func (s *Store) List() ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode run %x: %w", k, err)
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(BucketIDs)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
