package harvest

import (
	"errors"
	"time"
)

// Store is a durable FIFO of serialized payloads awaiting delivery.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append queues data under id. Appending an existing id replaces its
	// data and moves it to the back of the queue.
	Append(id string, data []byte) error

	// Load returns the data queued under id.
	// Returns ErrNotFound if id is not queued.
	Load(id string) ([]byte, error)

	// Pending returns up to limit records, oldest first. A limit of zero or
	// less returns every record.
	Pending(limit int) ([]Record, error)

	// Ack removes delivered records. Unknown ids are ignored.
	Ack(ids ...string) error

	// Len returns the number of queued records.
	Len() (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Record is one queued payload.
type Record struct {
	ID        string
	Sequence  int64
	Timestamp time.Time
	Data      []byte
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a record is not queued.
	ErrNotFound = errors.New("harvest record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("harvest store closed")
)

// OpenStore returns the store for path: the in-memory store for ":memory:"
// or an empty path, SQLite otherwise.
func OpenStore(path string) (Store, error) {
	if path == "" || path == ":memory:" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}
