package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks   = []byte("tasks")
	bucketActions = []byte("actions")
	bucketAgents  = []byte("agents")
	bucketState   = []byte("state")
	bucketRecords = []byte("records")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warden.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTasks,
			bucketActions,
			bucketAgents,
			bucketState,
			bucketRecords,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Task operations

func (s *BoltStore) SaveTask(task *types.Task) error {
	return s.put(bucketTasks, task.ID, task)
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("task", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Heal action operations

func (s *BoltStore) SaveAction(action *types.HealAction) error {
	return s.put(bucketActions, action.ID, action)
}

func (s *BoltStore) GetAction(id string) (*types.HealAction, error) {
	var action types.HealAction
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketActions).Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("action", id)
		}
		return json.Unmarshal(data, &action)
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *BoltStore) ListActions() ([]*types.HealAction, error) {
	var actions []*types.HealAction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var action types.HealAction
			if err := json.Unmarshal(v, &action); err != nil {
				return err
			}
			actions = append(actions, &action)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
	return actions, nil
}

// Agent operations

func (s *BoltStore) SaveAgent(agent *types.AgentHealth) error {
	return s.put(bucketAgents, agent.Name, agent)
}

func (s *BoltStore) GetAgent(name string) (*types.AgentHealth, error) {
	var agent types.AgentHealth
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgents).Get([]byte(name))
		if data == nil {
			return errdefs.NotFound("agent", name)
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents() ([]*types.AgentHealth, error) {
	var agents []*types.AgentHealth
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var agent types.AgentHealth
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Name < agents[j].Name
	})
	return agents, nil
}

// Component state checkpoints

func (s *BoltStore) SaveState(component string, state interface{}) error {
	return s.put(bucketState, component, state)
}

// LoadState unmarshals the component's checkpoint into state. The bool
// result reports whether a checkpoint existed.
func (s *BoltStore) LoadState(component string, state interface{}) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get([]byte(component))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, state)
	})
	return found, err
}

// Remediation records

func (s *BoltStore) SaveRecord(rec *Record) error {
	return s.put(bucketRecords, rec.ID, rec)
}

func (s *BoltStore) ListRecords() ([]*Record, error) {
	var records []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}
