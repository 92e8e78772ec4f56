package fastsync

import "github.com/ethereum/go-ethereum/metrics"

// Named counters/gauges live in the global metrics registry rather than
// being threaded through every component as a struct field.
var (
	headersReceivedMeter   = metrics.NewRegisteredMeter("fastsync/headers/received", nil)
	bodiesReceivedMeter    = metrics.NewRegisteredMeter("fastsync/bodies/received", nil)
	receiptsReceivedMeter  = metrics.NewRegisteredMeter("fastsync/receipts/received", nil)
	stateNodesSavedMeter   = metrics.NewRegisteredMeter("fastsync/state/nodes/saved", nil)
	peerBlacklistedCounter = metrics.NewRegisteredCounter("fastsync/peers/blacklisted", nil)
	pivotUpdateFailures    = metrics.NewRegisteredCounter("fastsync/pivot/update-failures", nil)
	bestHeaderGauge        = metrics.NewRegisteredGauge("fastsync/progress/best-header", nil)
	lastFullBlockGauge     = metrics.NewRegisteredGauge("fastsync/progress/last-full-block", nil)
)
