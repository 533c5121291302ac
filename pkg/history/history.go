package history

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/surgeworks/stampede/pkg/types"
)

var bucketRuns = []byte("runs")

// Store persists run outcomes to a local BoltDB file
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the run history database under dataDir
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "stampede.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a run outcome keyed by run ID
func (s *Store) Record(outcome *types.RunOutcome) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(outcome)
		if err != nil {
			return err
		}
		return b.Put([]byte(outcome.RunID), data)
	})
}

// Get returns one recorded run outcome
func (s *Store) Get(runID string) (*types.RunOutcome, error) {
	var outcome types.RunOutcome
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("run not found: %s", runID)
		}
		return json.Unmarshal(data, &outcome)
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// List returns all recorded runs, most recent first
func (s *Store) List() ([]*types.RunOutcome, error) {
	var outcomes []*types.RunOutcome
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var outcome types.RunOutcome
			if err := json.Unmarshal(v, &outcome); err != nil {
				return err
			}
			outcomes = append(outcomes, &outcome)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].StartedAt.After(outcomes[j].StartedAt)
	})
	return outcomes, nil
}
