// Package fastsync implements the engine that brings a freshly started
// node up to the chain head: parallel header/body/receipt download, pivot
// selection and rebase, and a separate state-trie scheduler, handed off to
// regular full sync on completion.
package fastsync

import "time"

// Config enumerates every tunable of the engine.
type Config struct {
	// Batch sizes.
	BlockHeadersPerRequest uint64
	BlockBodiesPerRequest  uint64
	ReceiptsPerRequest     uint64
	NodesPerRequest        uint64

	// Concurrency and timing.
	MaxConcurrentRequests int
	FastSyncThrottle      time.Duration
	PeerResponseTimeout   time.Duration
	SyncRetryInterval     time.Duration

	// Blacklist durations.
	BlacklistDuration         time.Duration
	CriticalBlacklistDuration time.Duration

	// Pivot selection and staleness.
	PivotBlockOffset           uint64
	MaxPivotBlockAge           uint64
	MaxTargetDifference        uint64
	MinPeersToChoosePivotBlock int

	PivotBlockRescheduleInterval time.Duration
	MaximumTargetUpdateFailures  int

	// Rewind / validation tuning.
	FastSyncBlockValidationN uint64 // rewind depth
	FastSyncBlockValidationK uint64 // validation stride
	FastSyncBlockValidationX uint64 // post-pivot validation tail

	// Periodic housekeeping.
	PersistStateSnapshotInterval time.Duration
	PrintStatusInterval          time.Duration

	StateSyncBloomFilterSize uint64

	// RequestRateLimit caps the total outbound requests per second the
	// transport issues across all peers, a safety valve independent of
	// MaxConcurrentRequests (which bounds in-flight requests, not rate).
	RequestRateLimit float64
}

// DefaultConfig picks the same magnitudes real fast-sync deployments use:
// batch sizes in the low hundreds, second-scale timeouts.
func DefaultConfig() Config {
	return Config{
		BlockHeadersPerRequest: 192,
		BlockBodiesPerRequest:  128,
		ReceiptsPerRequest:     128,
		NodesPerRequest:        384,

		MaxConcurrentRequests: 32,
		FastSyncThrottle:      50 * time.Millisecond,
		PeerResponseTimeout:   15 * time.Second,
		SyncRetryInterval:     5 * time.Second,

		BlacklistDuration:         5 * time.Minute,
		CriticalBlacklistDuration: 30 * time.Minute,

		PivotBlockOffset:           64,
		MaxPivotBlockAge:           128,
		MaxTargetDifference:        256,
		MinPeersToChoosePivotBlock: 2,

		PivotBlockRescheduleInterval: 3 * time.Second,
		MaximumTargetUpdateFailures:  50,

		FastSyncBlockValidationN: 128,
		FastSyncBlockValidationK: 256,
		FastSyncBlockValidationX: 256,

		PersistStateSnapshotInterval: 10 * time.Second,
		PrintStatusInterval:          5 * time.Second,

		StateSyncBloomFilterSize: 2048 * 1024 * 8,

		RequestRateLimit: 200,
	}
}
