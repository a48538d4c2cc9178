package chat

import "fmt"

// SyncStatus is the widget's connectivity/activity indicator.
type SyncStatus int

const (
	StatusIdle SyncStatus = iota
	StatusSyncing
	StatusConnected
	StatusError
)

// String returns the wire form of the status.
func (s SyncStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSyncStatus maps a wire string back to a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch s {
	case "idle":
		return StatusIdle, nil
	case "syncing":
		return StatusSyncing, nil
	case "connected":
		return StatusConnected, nil
	case "error":
		return StatusError, nil
	default:
		return StatusIdle, fmt.Errorf("unknown sync status %q", s)
	}
}

// CanTransition reports whether moving from one status to another is legal.
// Allowed edges: idle→syncing (load or send), syncing→connected (response
// with at least one assistant message), syncing→error (fatal failure),
// error→syncing (retry), and any→idle (reset).
func CanTransition(from, to SyncStatus) bool {
	if to == StatusIdle {
		return true
	}
	switch from {
	case StatusIdle:
		return to == StatusSyncing
	case StatusSyncing:
		return to == StatusConnected || to == StatusError
	case StatusError:
		return to == StatusSyncing
	default:
		return false
	}
}
