// Package constants holds tuning values shared across packages.
package constants

import "time"

// Download lane.
const (
	// DownloadChunkSize is the read/write unit of the fetch loop. Pause and
	// cancel are noticed between chunks.
	DownloadChunkSize = 64 * 1024

	// ProgressInterval is how often the active worker reports bytes on disk.
	ProgressInterval = 500 * time.Millisecond

	// MessageBufferSize is the capacity of the worker to queue channel.
	// Progress samples are dropped when it is full; status messages are not.
	MessageBufferSize = 256

	// ShutdownGrace bounds how long Close waits for the worker to release
	// its file.
	ShutdownGrace = 5 * time.Second

	// DiskSpaceSafetyMargin scales the remaining bytes before the free
	// space check.
	DiskSpaceSafetyMargin = 1.05
)

// TickInterval is the period of the loop that drains worker messages and
// operation results.
const TickInterval = 50 * time.Millisecond

// Event bus channel capacity per subscriber.
const (
	EventBusDefaultBuffer = 1000
	EventBusMaxBuffer     = 5000
)

// Per-operation deadlines for dispatched remote calls.
const (
	APIContextTimeout    = 30 * time.Second
	UploadContextTimeout = time.Hour
)

// Retry policy for API calls. Download bytes are resumed by the queue, not
// retried here.
const (
	APIRetryMax     = 5
	APIRetryWaitMin = 1 * time.Second
	APIRetryWaitMax = 30 * time.Second
)

// HTTP transport.
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPTLSHandshakeTimeout   = 60 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second

	// HTTPAPITimeout caps a whole API request. Downloads use a client
	// without an overall timeout.
	HTTPAPITimeout = 300 * time.Second
)
