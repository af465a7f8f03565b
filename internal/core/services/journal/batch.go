package journal

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/qqcong/replikate/internal/core/domain"
	"github.com/qqcong/replikate/internal/core/ports"
	"github.com/qqcong/replikate/internal/core/services/segment"
	errs "github.com/qqcong/replikate/pkg/errors"
	"github.com/qqcong/replikate/pkg/metrics"
)

// Batch accumulates entries for one atomic commit. Entries are encoded as
// they are added, so encoding failures surface before anything touches
// disk. A batch is single-use: after Commit it rejects further work.
type Batch[V any] struct {
	journal  *Journal[V]
	listener ports.JournalListener[V]

	mu       sync.Mutex
	entries  []*preparedEntry[V]
	dataSize int
	done     bool
}

// StartBatch opens a batch bound to the journal-wide listener.
func (j *Journal[V]) StartBatch() *Batch[V] {
	return j.StartBatchWith(j.listener)
}

// StartBatchWith opens a batch with its own listener.
func (j *Journal[V]) StartBatchWith(listener ports.JournalListener[V]) *Batch[V] {
	return &Batch[V]{journal: j, listener: listener}
}

// Append adds one entry to the batch, encoding its payload immediately.
func (b *Batch[V]) Append(entry domain.Entry[V]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return errs.NewJournalError(errs.CategoryBatch, "batch append", fmt.Errorf("batch already committed"))
	}

	prep, err := b.journal.prepare(entry)
	if err != nil {
		return err
	}

	b.entries = append(b.entries, prep)
	b.dataSize += len(prep.payload)
	return nil
}

// Len returns the number of entries collected so far.
func (b *Batch[V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Commit writes the batch into a dedicated BATCH segment sized exactly for
// it: either every record becomes durable and OnCommit fires for each in
// order, or the segment is deleted, the id high-water mark is restored and
// OnFailure fires once for the whole batch.
func (b *Batch[V]) Commit() error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return errs.NewJournalError(errs.CategoryBatch, "batch commit", fmt.Errorf("batch already committed"))
	}
	b.done = true
	entries := b.entries
	dataSize := b.dataSize
	b.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	return b.journal.commitBatch(entries, dataSize, b.listener)
}

// commitBatch holds the directory mutex for the whole batch so its records
// are contiguous on disk and no other append interleaves.
func (j *Journal[V]) commitBatch(entries []*preparedEntry[V], dataSize int, listener ports.JournalListener[V]) error {
	if j.shutdown.Load() {
		return errs.NewJournalError(errs.CategoryBatch, "batch commit", errClosed)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// Mark the id high-water for rollback.
	mark := j.ids.LastRecordID()

	// The segment is sized exactly to the batch; its completed presence on
	// disk is what makes the commit observable after a crash.
	size := uint32(domain.FileHeaderSize + dataSize + len(entries)*domain.RecordHeaderSize)
	logNumber := j.dir.NextLogNumber()
	path := filepath.Join(j.opts.JournalPath, j.naming.Generate(logNumber))

	seg, err := segment.Create(path, logNumber, size, domain.FileTypeBatch)
	if err != nil {
		// Nothing was pushed, nothing to roll back beyond notification.
		wrapped := errs.NewJournalError(errs.CategoryBatch, "open batch segment", err)
		j.failBatch(listener, entries, wrapped)
		return wrapped
	}
	if err := j.dir.PushHead(seg); err != nil {
		seg.Close()
		seg.Remove()
		wrapped := errs.NewJournalError(errs.CategoryBatch, "register batch segment", err)
		j.failBatch(listener, entries, wrapped)
		return wrapped
	}

	records := make([]domain.Record[V], 0, len(entries))
	var appendErr error
	for _, prep := range entries {
		outcome, appended, err := segmentAppend(seg, prep.payload, prep.entry.Type, j.ids)
		if err != nil {
			appendErr = err
			break
		}
		if outcome != segment.AppendSuccess {
			appendErr = fmt.Errorf("batch segment rejected record with outcome %d", outcome)
			break
		}
		records = append(records, domain.Record[V]{
			ID:        appended.ID,
			Type:      prep.entry.Type,
			Value:     prep.entry.Value,
			LogNumber: logNumber,
			Offset:    appended.Offset,
		})
	}

	if appendErr == nil {
		for _, record := range records {
			j.notifyCommit(listener, record)
		}
		if j.opts.EnableMetrics {
			metrics.AppendsTotal.WithLabelValues("batch").Add(float64(len(records)))
			metrics.BatchesTotal.WithLabelValues("committed").Inc()
		}
		return nil
	}

	// Rollback: the batch segment disappears and the id stream resumes
	// where it was before the batch.
	popped := j.dir.PopHead()
	if closeErr := popped.Close(); closeErr != nil {
		j.log.Errorw("closing rolled back batch segment", "error", closeErr)
	}
	if removeErr := popped.Remove(); removeErr != nil {
		j.log.Errorw("deleting rolled back batch segment", "path", popped.Path(), "error", removeErr)
	}
	j.ids.NotifyHighestRecordID(mark)

	wrapped := errs.NewJournalError(errs.CategoryBatch, "commit batch", appendErr)
	j.log.Warnw("batch rolled back", "logNumber", logNumber, "entries", len(entries), "error", appendErr)
	j.failBatch(listener, entries, wrapped)
	return wrapped
}

func (j *Journal[V]) failBatch(listener ports.JournalListener[V], entries []*preparedEntry[V], err error) {
	if j.opts.EnableMetrics {
		metrics.BatchesTotal.WithLabelValues("rolled_back").Inc()
	}
	batch := make([]domain.Entry[V], len(entries))
	for i, prep := range entries {
		batch[i] = prep.entry
	}
	j.notifyFailure(listener, ports.Failure[V]{Batch: batch}, err)
}
