// Package registry owns the mapping from server-id to its running
// backend: the Process handle, the spawned Dispatcher, the config
// actually used to spawn it (possibly rewritten by the risk gate), and
// the Initialization FSM's current state.
package registry

import (
	"sync"
	"time"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/dispatch"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/mcpconfig"
)

// ServerRecord is the mutable runtime entry for one backend. A record
// is inserted into the Registry only after its spawn has succeeded; no
// traffic is accepted until InitState() reports backend.StateInitialized.
type ServerRecord struct {
	ID              string
	Config          mcpconfig.ServerConfig
	OriginalCommand string
	OriginalArgs    []string
	RiskLevel       mcpconfig.RiskLevel
	RunningInDocker bool
	CreatedAt       time.Time

	Proc       *backend.Process
	Dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	initState backend.InitState
}

// NewRecord constructs a record in StateStarting.
func NewRecord(id string, cfg mcpconfig.ServerConfig, originalCommand string, originalArgs []string, risk mcpconfig.RiskLevel, runningInDocker bool) *ServerRecord {
	return &ServerRecord{
		ID:              id,
		Config:          cfg,
		OriginalCommand: originalCommand,
		OriginalArgs:    originalArgs,
		RiskLevel:       risk,
		RunningInDocker: runningInDocker,
		CreatedAt:       time.Now(),
		initState:       backend.StateStarting,
	}
}

// SetInitState transitions the record's FSM state.
func (r *ServerRecord) SetInitState(state backend.InitState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initState = state
}

// InitState reports the record's current FSM state.
func (r *ServerRecord) InitState() backend.InitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initState
}

// Ready reports whether the record is accepting dispatches.
func (r *ServerRecord) Ready() bool {
	return r.InitState() == backend.StateInitialized
}

// PID returns the backend's OS process id, or 0 if not spawned.
func (r *ServerRecord) PID() int {
	if r.Proc == nil {
		return 0
	}
	return r.Proc.PID()
}

// Registry exclusively owns the set of ServerRecords. Insertion races
// on the same id are rejected with a Conflict error.
type Registry struct {
	mu      sync.Mutex
	records map[string]*ServerRecord
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[string]*ServerRecord)}
}

// Insert adds record under id, failing if id already exists.
func (reg *Registry) Insert(id string, record *ServerRecord) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.records[id]; exists {
		return gwerrors.NewF(gwerrors.KindConflict, "server %q already registered", id)
	}
	reg.records[id] = record
	return nil
}

// Get returns the record for id, or a NotFound error.
func (reg *Registry) Get(id string) (*ServerRecord, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	record, ok := reg.records[id]
	if !ok {
		return nil, gwerrors.NewF(gwerrors.KindNotFound, "unknown server %q", id)
	}
	return record, nil
}

// Remove deletes the record for id, if present.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.records, id)
}

// List returns a snapshot slice of every currently registered record.
func (reg *Registry) List() []*ServerRecord {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	records := make([]*ServerRecord, 0, len(reg.records))
	for _, record := range reg.records {
		records = append(records, record)
	}
	return records
}

// IDs returns a snapshot of registered server ids, used by the
// Shutdown Coordinator to fan out stops without holding the registry
// lock across each shutdown.
func (reg *Registry) IDs() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]string, 0, len(reg.records))
	for id := range reg.records {
		ids = append(ids, id)
	}
	return ids
}
