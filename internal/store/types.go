package store

// OutboxEntry is one spooled offline-buffer item. Body holds the encoded
// wire frame.
type OutboxEntry struct {
	Seq       int64
	MsgID     int64
	Type      string
	Body      string
	Timestamp int64
	QueuedAt  int64
}

// recoveryKey is the checkpoint key holding the recovery snapshot.
const recoveryKey = "recovery"
