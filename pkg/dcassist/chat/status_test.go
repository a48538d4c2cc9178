package chat

import "testing"

func TestSyncStatusString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status SyncStatus
		want   string
	}{
		{StatusIdle, "idle"},
		{StatusSyncing, "syncing"},
		{StatusConnected, "connected"},
		{StatusError, "error"},
		{SyncStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseSyncStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    SyncStatus
		wantErr bool
	}{
		{"idle", StatusIdle, false},
		{"syncing", StatusSyncing, false},
		{"connected", StatusConnected, false},
		{"error", StatusError, false},
		{"offline", StatusIdle, true},
		{"", StatusIdle, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSyncStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSyncStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSyncStatus(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from SyncStatus
		to   SyncStatus
		want bool
	}{
		{"idle to syncing", StatusIdle, StatusSyncing, true},
		{"syncing to connected", StatusSyncing, StatusConnected, true},
		{"syncing to error", StatusSyncing, StatusError, true},
		{"error to syncing", StatusError, StatusSyncing, true},
		{"idle reset", StatusConnected, StatusIdle, true},
		{"error reset", StatusError, StatusIdle, true},
		{"syncing reset", StatusSyncing, StatusIdle, true},
		{"idle to idle", StatusIdle, StatusIdle, true},

		{"connected to syncing is indirect", StatusConnected, StatusSyncing, false},
		{"idle to connected", StatusIdle, StatusConnected, false},
		{"idle to error", StatusIdle, StatusError, false},
		{"error to connected", StatusError, StatusConnected, false},
		{"connected to error", StatusConnected, StatusError, false},
		{"connected to connected", StatusConnected, StatusConnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
