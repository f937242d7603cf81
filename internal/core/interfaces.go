// Package core holds the small contracts shared between the hub and its
// transport adapters.
package core

// Frame is a serialized wire message.
type Frame []byte

// SignalConn abstracts a system messaging transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	// TrySend queues a frame without blocking. It returns an error when the
	// connection is closed or its send buffer is full.
	TrySend(Frame) error
	// Open reports whether the connection can still accept frames.
	Open() bool
	Close()
}

// PublishResult reports delivery stats/backpressure to the broadcast caller.
type PublishResult struct {
	Sent    int
	Dropped int
}
