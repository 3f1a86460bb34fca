package engine

// Status describes where the engine is in its sync lifecycle.
type Status string

const (
	StatusOffline     Status = "offline"
	StatusSyncing     Status = "syncing"
	StatusPendingSync Status = "pending"
	StatusError       Status = "error"
	StatusSynced      Status = "synced"
)

// SyncState is the process-local, derived view exposed to observers.
// It is never persisted; it is rebuilt from the durable queue at startup.
type SyncState struct {
	Status            Status
	PendingOperations int
	LastError         string
}
