package storage

import (
	"time"

	"github.com/wardenhq/warden/pkg/types"
)

// RecordKind classifies persisted remediation records
type RecordKind string

const (
	RecordRollbackPending RecordKind = "rollback_pending"
	RecordAlert           RecordKind = "alert"
)

// Record is a remediation side effect deferred to an external system:
// a pending rollback marker or an alert record.
type Record struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	Target    string     `json:"target"`
	Severity  string     `json:"severity,omitempty"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store is the persistence collaborator contract. Each call is atomic.
// Components checkpoint their full state as one document before
// returning results to callers.
type Store interface {
	// Tasks
	SaveTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)

	// Heal actions
	SaveAction(action *types.HealAction) error
	GetAction(id string) (*types.HealAction, error)
	ListActions() ([]*types.HealAction, error)

	// Agent registry
	SaveAgent(agent *types.AgentHealth) error
	GetAgent(name string) (*types.AgentHealth, error)
	ListAgents() ([]*types.AgentHealth, error)

	// Component state checkpoints, one JSON document per component name
	SaveState(component string, state interface{}) error
	LoadState(component string, state interface{}) (bool, error)

	// Deferred remediation records (rollback markers, alerts)
	SaveRecord(rec *Record) error
	ListRecords() ([]*Record, error)

	Close() error
}
