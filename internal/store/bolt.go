package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRuns      = []byte("runs")
	bucketDurations = []byte("durations")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketDurations} {
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

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) RecordExecution(name string, elapsed time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDurations)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDurations)
		}
		var stats DurationStats
		if data := b.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, &stats); err != nil {
				return fmt.Errorf("decode durations %s: %w", name, err)
			}
		}
		stats.Count++
		stats.Total += elapsed
		stats.Last = elapsed
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

func (s *BoltStore) Durations(name string) (*DurationStats, error) {
	var stats DurationStats
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDurations)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDurations)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("durations %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &stats)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *BoltStore) ExecutionTime(name string) (time.Duration, bool) {
	stats, err := s.Durations(name)
	if err != nil || stats.Count == 0 {
		return 0, false
	}
	return stats.Average(), true
}

func (s *BoltStore) SaveRun(run *Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRuns)
		}
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStore) GetRun(id string) (*Run, error) {
	var run Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRuns)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) ListRuns(limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil // no bucket = no runs
		}
		runs = make([]*Run, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Keys are random run IDs, so order by start time.
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
