// Package journal composes the segment layer into the durable append-only
// journal: synchronous and asynchronous append paths, rollover handling,
// atomic batches and startup replay.
package journal

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qqcong/replikate/internal/core/domain"
	"github.com/qqcong/replikate/internal/core/ports"
	"github.com/qqcong/replikate/internal/core/services/segment"
	errs "github.com/qqcong/replikate/pkg/errors"
	"github.com/qqcong/replikate/pkg/fs"
	"github.com/qqcong/replikate/pkg/metrics"
	"github.com/qqcong/replikate/pkg/queue"
	"github.com/qqcong/replikate/pkg/system"
)

// Config wires a journal instance: its own options plus the
// application-provided collaborators.
type Config[V any] struct {
	// Name labels the journal in diagnostics.
	Name string

	// JournalPath is an existing directory owned by this journal.
	JournalPath string

	// MaxLogFileSize bounds DEFAULT segments, in bytes.
	MaxLogFileSize uint32

	// EnableMetrics toggles Prometheus instrumentation.
	EnableMetrics bool

	// Writer encodes values into payload bytes.
	Writer ports.EntryWriter[V]

	// Reader decodes payload bytes back into values during replay.
	Reader ports.EntryReader[V]

	// RecordIDs allocates monotonic record ids.
	RecordIDs ports.RecordIDGenerator

	// Naming maps log numbers to segment file names and back.
	Naming ports.NamingStrategy

	// Listener receives commit, replay and failure notifications. May be
	// nil; per-append listeners can still be supplied.
	Listener ports.JournalListener[V]

	// Logger receives engine diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
}

// task is one unit of asynchronous work for the writer goroutine.
type task[V any] struct {
	prep     *preparedEntry[V]
	listener ports.JournalListener[V]
}

// preparedEntry carries an entry together with its payload bytes. The
// payload is encoded exactly once, so rollover retries never re-encode.
type preparedEntry[V any] struct {
	entry   domain.Entry[V]
	payload []byte
}

// Journal is the engine facade. One dedicated writer goroutine drains the
// async queue; the directory mutex serializes every logical append,
// including rollover and listener notification, across all submitters.
type Journal[V any] struct {
	opts     domain.Options
	writer   ports.EntryWriter[V]
	reader   ports.EntryReader[V]
	ids      ports.RecordIDGenerator
	naming   ports.NamingStrategy
	listener ports.JournalListener[V]
	log      *zap.SugaredLogger

	mu  sync.Mutex // directory mutex
	dir *segment.Directory

	queue      *queue.Queue[task[V]]
	writerDone chan struct{}
	shutdown   atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// segmentAppend indirects segment appends; hook for testing fault paths.
var segmentAppend = func(
	s *segment.Segment, payload []byte, entryType uint8, ids ports.RecordIDGenerator,
) (segment.AppendOutcome, segment.AppendedRecord, error) {
	return s.Append(payload, entryType, ids)
}

// New validates the configuration, replays any existing journal files in
// the directory, opens the first DEFAULT segment and starts the writer
// goroutine. No appends are admitted before replay completes.
func New[V any](cfg *Config[V]) (*Journal[V], error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	j := &Journal[V]{
		opts: domain.Options{
			Name:           cfg.Name,
			JournalPath:    cfg.JournalPath,
			MaxLogFileSize: cfg.MaxLogFileSize,
			EnableMetrics:  cfg.EnableMetrics,
		},
		writer:     cfg.Writer,
		reader:     cfg.Reader,
		ids:        cfg.RecordIDs,
		naming:     cfg.Naming,
		listener:   cfg.Listener,
		log:        log.With("journal", cfg.Name),
		dir:        segment.NewDirectory(),
		queue:      queue.New[task[V]](),
		writerDone: make(chan struct{}),
	}

	j.log.Infow("journal starting up", "path", j.opts.JournalPath)

	needsReplay, err := j.hasJournalFiles()
	if err != nil {
		return nil, errs.NewJournalError(errs.CategoryReplay, "scan journal directory", err)
	}
	if needsReplay {
		j.log.Warnw("found old journals in journaling path, starting replay")
		if err := j.replay(); err != nil {
			return nil, err
		}
	}

	if err := j.openSegmentLocked(domain.FileTypeDefault, j.opts.MaxLogFileSize); err != nil {
		return nil, errs.NewJournalError(errs.CategoryStorage, "open first segment", err)
	}

	go j.writeLoop()
	return j, nil
}

// AppendSync writes one entry on the calling goroutine, notifying the
// journal-wide listener.
func (j *Journal[V]) AppendSync(entry domain.Entry[V]) error {
	return j.AppendSyncWith(entry, j.listener)
}

// AppendSyncWith writes one entry on the calling goroutine. The listener
// is invoked before the call returns: OnCommit once the record is durable,
// OnFailure if the append was rejected by an I/O error.
func (j *Journal[V]) AppendSyncWith(entry domain.Entry[V], listener ports.JournalListener[V]) error {
	if j.shutdown.Load() {
		return errs.NewJournalError(errs.CategoryStorage, "append", errClosed)
	}

	prep, err := j.prepare(entry)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.appendLocked(prep, listener, "sync")
	return nil
}

// Append enqueues one entry for the writer goroutine and returns
// immediately. Encoding failures surface synchronously; everything after
// that is reported through the listener from the writer goroutine.
func (j *Journal[V]) Append(entry domain.Entry[V]) error {
	return j.AppendWith(entry, j.listener)
}

// AppendWith is Append with a per-entry listener.
func (j *Journal[V]) AppendWith(entry domain.Entry[V], listener ports.JournalListener[V]) error {
	if j.shutdown.Load() {
		return errs.NewJournalError(errs.CategoryStorage, "append", errClosed)
	}

	prep, err := j.prepare(entry)
	if err != nil {
		return err
	}

	if !j.queue.Offer(task[V]{prep: prep, listener: listener}) {
		return errs.NewJournalError(errs.CategoryStorage, "append", errClosed)
	}
	if j.opts.EnableMetrics {
		metrics.QueueDepth.Set(float64(j.queue.Len()))
	}
	return nil
}

// LastRecordID returns the id generator's current high-water mark.
func (j *Journal[V]) LastRecordID() uint64 {
	return j.ids.LastRecordID()
}

// Close drains the async queue, stops the writer goroutine and closes
// every segment. It is idempotent; the context only bounds how long the
// caller waits, the shutdown itself runs to completion.
func (j *Journal[V]) Close(ctx context.Context) error {
	j.closeOnce.Do(func() {
		j.closeErr = system.RunWithContext(ctx, func(context.Context) error {
			j.shutdown.Store(true)
			j.queue.Close()
			<-j.writerDone

			j.mu.Lock()
			defer j.mu.Unlock()

			var closeErr error
			for _, s := range j.dir.OldestToNewest() {
				closeErr = multierr.Append(closeErr, s.Close())
			}

			j.log.Infow("journal closed")
			if closeErr != nil {
				return errs.NewJournalError(errs.CategoryShutdown, "close segments", closeErr)
			}
			return nil
		})
	})
	return j.closeErr
}

var errClosed = fmt.Errorf("journal is closed")

// prepare encodes the entry's payload exactly once.
func (j *Journal[V]) prepare(entry domain.Entry[V]) (*preparedEntry[V], error) {
	var buf bytes.Buffer
	if err := j.writer.WriteEntry(entry.Value, &buf); err != nil {
		return nil, errs.NewJournalError(errs.CategoryEncoding, "encode entry", err)
	}
	return &preparedEntry[V]{entry: entry, payload: buf.Bytes()}, nil
}

// writeLoop is the dedicated writer goroutine. It drains the queue in
// submission order; each item goes through the same synchronous path and
// therefore the same rollover handling.
func (j *Journal[V]) writeLoop() {
	defer close(j.writerDone)

	for {
		t, ok := j.queue.Take()
		if !ok {
			if !j.shutdown.Load() {
				j.log.Warnw("append queue closed outside shutdown")
			}
			return
		}
		if j.opts.EnableMetrics {
			metrics.QueueDepth.Set(float64(j.queue.Len()))
		}

		j.mu.Lock()
		j.appendLocked(t.prep, t.listener, "async")
		j.mu.Unlock()
	}
}

// appendLocked performs one logical append against the head segment,
// handling rollover outcomes locally. Must hold the directory mutex.
//
// I/O failures are delivered through the listener, matching the contract
// that the listener, not the return path, owns append errors.
func (j *Journal[V]) appendLocked(prep *preparedEntry[V], listener ports.JournalListener[V], mode string) {
	framed := uint32(domain.RecordHeaderSize + len(prep.payload))
	fitsDefault := framed+domain.FileHeaderSize <= j.opts.MaxLogFileSize

	for {
		head := j.dir.Head()
		outcome, appended, err := segmentAppend(head, prep.payload, prep.entry.Type, j.ids)
		if err != nil {
			j.failEntry(listener, prep, errs.NewJournalError(errs.CategoryStorage, "append record", err))
			return
		}

		switch outcome {
		case segment.AppendSuccess:
			j.notifyCommit(listener, domain.Record[V]{
				ID:        appended.ID,
				Type:      prep.entry.Type,
				Value:     prep.entry.Value,
				LogNumber: head.LogNumber(),
				Offset:    appended.Offset,
			})
			if j.opts.EnableMetrics {
				metrics.AppendsTotal.WithLabelValues(mode).Inc()
			}
			return

		case segment.AppendOverflow:
			if !fitsDefault {
				// The head had leftover room but this record can never fit
				// a default segment; route it to a dedicated one.
				j.appendOverflowLocked(prep, listener, mode)
				return
			}
			j.log.Debugw("journal segment full, overflowing to next one", "logNumber", head.LogNumber())
			if err := j.rolloverLocked(domain.FileTypeDefault, j.opts.MaxLogFileSize); err != nil {
				j.failEntry(listener, prep, errs.NewJournalError(errs.CategoryStorage, "rollover", err))
				return
			}
			if j.opts.EnableMetrics {
				metrics.RolloversTotal.WithLabelValues("overflow").Inc()
			}

		case segment.AppendFullOverflow:
			if fitsDefault {
				// The head is an exactly sized batch or overflow segment
				// smaller than the configured ceiling; a fresh default
				// segment still holds this record.
				if err := j.rolloverLocked(domain.FileTypeDefault, j.opts.MaxLogFileSize); err != nil {
					j.failEntry(listener, prep, errs.NewJournalError(errs.CategoryStorage, "rollover", err))
					return
				}
				if j.opts.EnableMetrics {
					metrics.RolloversTotal.WithLabelValues("overflow").Inc()
				}
				continue
			}
			j.appendOverflowLocked(prep, listener, mode)
			return
		}
	}
}

// appendOverflowLocked stores one record that exceeds the default segment
// ceiling into a dedicated OVERFLOW segment sized exactly for it. The
// retry against the fresh segment must succeed; anything else is fatal for
// this entry.
func (j *Journal[V]) appendOverflowLocked(prep *preparedEntry[V], listener ports.JournalListener[V], mode string) {
	j.log.Debugw("record too large for default segment, using overflow segment", "payloadSize", len(prep.payload))

	needed := uint32(len(prep.payload) + domain.OverflowOverheadSize)
	if err := j.rolloverLocked(domain.FileTypeOverflow, needed); err != nil {
		j.failEntry(listener, prep, errs.NewJournalError(errs.CategoryStorage, "open overflow segment", err))
		return
	}
	if j.opts.EnableMetrics {
		metrics.RolloversTotal.WithLabelValues("full_overflow").Inc()
	}

	head := j.dir.Head()
	outcome, appended, err := segmentAppend(head, prep.payload, prep.entry.Type, j.ids)
	if err != nil {
		j.failEntry(listener, prep, errs.NewJournalError(errs.CategoryStorage, "append to overflow segment", err))
		return
	}
	if outcome != segment.AppendSuccess {
		j.failEntry(listener, prep, errs.NewJournalError(
			errs.CategoryStorage, "append to overflow segment",
			fmt.Errorf("overflow segment rejected record with outcome %d", outcome),
		))
		return
	}

	j.notifyCommit(listener, domain.Record[V]{
		ID:        appended.ID,
		Type:      prep.entry.Type,
		Value:     prep.entry.Value,
		LogNumber: head.LogNumber(),
		Offset:    appended.Offset,
	})
	if j.opts.EnableMetrics {
		metrics.AppendsTotal.WithLabelValues(mode).Inc()
	}
}

// rolloverLocked closes the current head and opens a fresh segment as the
// new head. Must hold the directory mutex.
func (j *Journal[V]) rolloverLocked(fileType domain.FileType, maxSize uint32) error {
	if head := j.dir.Head(); head != nil {
		if err := head.Close(); err != nil {
			return err
		}
	}
	return j.openSegmentLocked(fileType, maxSize)
}

// openSegmentLocked creates the next segment via the naming strategy and
// pushes it as head.
func (j *Journal[V]) openSegmentLocked(fileType domain.FileType, maxSize uint32) error {
	logNumber := j.dir.NextLogNumber()
	path := filepath.Join(j.opts.JournalPath, j.naming.Generate(logNumber))

	seg, err := segment.Create(path, logNumber, maxSize, fileType)
	if err != nil {
		return err
	}
	if err := j.dir.PushHead(seg); err != nil {
		seg.Close()
		seg.Remove()
		return err
	}

	j.log.Debugw("opened segment", "logNumber", logNumber, "type", fileType.String(), "maxSize", maxSize)
	return nil
}

// hasJournalFiles reports whether the journal directory holds at least one
// file recognized by the naming strategy.
func (j *Journal[V]) hasJournalFiles() (bool, error) {
	names, err := fs.ListDir(j.opts.JournalPath)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if j.naming.IsJournal(name) {
			return true, nil
		}
	}
	return false, nil
}

// failEntry reports one rejected entry through the listener.
func (j *Journal[V]) failEntry(listener ports.JournalListener[V], prep *preparedEntry[V], err error) {
	if j.opts.EnableMetrics {
		metrics.AppendFailures.Inc()
	}
	j.log.Errorw("append failed", "error", err)
	entry := prep.entry
	j.notifyFailure(listener, ports.Failure[V]{Entry: &entry}, err)
}

// Listener callbacks run under the directory mutex; a panicking listener
// must not take the engine down with it.

func (j *Journal[V]) notifyCommit(listener ports.JournalListener[V], record domain.Record[V]) {
	if listener == nil {
		return
	}
	defer j.recoverListener("onCommit")
	listener.OnCommit(record)
}

func (j *Journal[V]) notifyReplay(listener ports.JournalListener[V], record domain.Record[V]) {
	if listener == nil {
		return
	}
	defer j.recoverListener("onReplay")
	listener.OnReplay(record)
}

func (j *Journal[V]) notifyFailure(listener ports.JournalListener[V], failure ports.Failure[V], err error) {
	if listener == nil {
		return
	}
	defer j.recoverListener("onFailure")
	listener.OnFailure(failure, err)
}

func (j *Journal[V]) recoverListener(callback string) {
	if r := recover(); r != nil {
		j.log.Errorw("listener panicked", "callback", callback, "panic", r)
	}
}
