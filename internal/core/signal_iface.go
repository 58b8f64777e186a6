package core

// Frame is one encoded signalling message (a JSON object from internal/proto).
type Frame []byte

// SignalConnection is the outbound half of a member's signalling socket.
// TrySend never blocks: a full queue is reported as an error and handled by
// the back-pressure policy. Close flushes queued frames and ends the socket;
// the adapter that created the connection owns it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
