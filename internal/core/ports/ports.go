// Package ports declares the collaborator interfaces the journal engine
// consumes. All of them are application-provided; the adapters package
// ships default implementations.
package ports

import (
	"io"

	"github.com/qqcong/replikate/internal/core/domain"
)

// EntryWriter converts an application value into its payload bytes.
// Implementations must be deterministic for equal inputs and must not
// buffer state across calls.
type EntryWriter[V any] interface {
	WriteEntry(value V, w io.Writer) error
}

// EntryReader is the inverse of EntryWriter. The type tag is handed back
// so implementations can dispatch on it.
type EntryReader[V any] interface {
	ReadEntry(data []byte, entryType uint8) (V, error)
}

// RecordIDGenerator hands out monotonic record ids. NotifyHighestRecordID
// moves the generator's high-water mark to the given id; it is called once
// after replay to resume above recovered records, and on batch rollback to
// discard ids allocated inside the failed batch.
type RecordIDGenerator interface {
	NextRecordID() uint64
	LastRecordID() uint64
	NotifyHighestRecordID(id uint64)
}

// NamingStrategy maps segment log numbers to file names and back.
// Implementations must satisfy ExtractLogNumber(Generate(n)) == n and
// IsJournal(Generate(n)) == true.
type NamingStrategy interface {
	Generate(logNumber uint64) string
	IsJournal(name string) bool
	ExtractLogNumber(name string) (uint64, error)
}

// Failure describes the work rejected by a failed append. Exactly one of
// Entry and Batch is set: Entry for single appends, Batch for batch
// commits.
type Failure[V any] struct {
	Entry *domain.Entry[V]
	Batch []domain.Entry[V]
}

// JournalListener receives commit, replay and failure notifications.
// Callbacks run on the appending goroutine (the caller for synchronous
// appends, the writer goroutine for asynchronous ones) while the engine
// holds its directory mutex, so they should return quickly. Panics from a
// listener are recovered by the engine and never corrupt its state.
type JournalListener[V any] interface {
	// OnCommit is delivered once per durably appended record, in disk order.
	OnCommit(record domain.Record[V])

	// OnReplay is delivered during startup for every record recovered from
	// an existing journal directory. Semantically identical to OnCommit,
	// distinguished only by context.
	OnReplay(record domain.Record[V])

	// OnFailure is delivered when an entry or a whole batch was rejected.
	OnFailure(failure Failure[V], err error)
}
