package journal

import (
	"errors"
	"io"
	"path/filepath"
	"sort"

	"github.com/qqcong/replikate/internal/core/domain"
	"github.com/qqcong/replikate/internal/core/services/segment"
	errs "github.com/qqcong/replikate/pkg/errors"
	"github.com/qqcong/replikate/pkg/fs"
	"github.com/qqcong/replikate/pkg/metrics"
)

// replay walks the journal directory before any writes are admitted,
// re-emitting every recoverable record to the listener in commit order and
// restoring the id generator's high-water mark.
//
// A magic or version mismatch fails startup. A corrupt tail inside a
// segment only stops replay of that file; it is kept intact on disk and
// the remaining segments still replay.
func (j *Journal[V]) replay() error {
	names, err := fs.ListDir(j.opts.JournalPath)
	if err != nil {
		return errs.NewJournalError(errs.CategoryReplay, "list journal directory", err)
	}

	type journalFile struct {
		name      string
		logNumber uint64
	}

	files := make([]journalFile, 0, len(names))
	for _, name := range names {
		if !j.naming.IsJournal(name) {
			continue
		}
		logNumber, err := j.naming.ExtractLogNumber(name)
		if err != nil {
			return errs.NewJournalError(errs.CategoryReplay, "extract log number from "+name, err)
		}
		files = append(files, journalFile{name: name, logNumber: logNumber})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].logNumber < files[b].logNumber })

	var maxSeen uint64
	var replayed int
	for _, f := range files {
		path := filepath.Join(j.opts.JournalPath, f.name)

		count, highest, err := j.replaySegment(path, f.logNumber)
		if err != nil {
			return err
		}
		replayed += count
		if highest > maxSeen {
			maxSeen = highest
		}
	}

	if replayed > 0 {
		j.ids.NotifyHighestRecordID(maxSeen)
	}
	if j.opts.EnableMetrics {
		metrics.ReplayedRecords.Add(float64(replayed))
	}

	j.log.Infow("replay finished", "segments", len(files), "records", replayed, "highestRecordId", maxSeen)
	return nil
}

// replaySegment scans one segment file and pushes it into the directory as
// closed history. Returns the number of replayed records and the highest
// record id seen.
func (j *Journal[V]) replaySegment(path string, logNumber uint64) (int, uint64, error) {
	r, err := segment.OpenReader(path)
	if err != nil {
		return 0, 0, errs.NewJournalError(errs.CategoryReplay, "open segment "+path, err)
	}
	defer r.Close()

	var count int
	var highest uint64
	for {
		header, payload, offset, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, segment.ErrEndOfSegment) || errors.Is(err, segment.ErrCorruptRecord) {
			// Trailing garbage from a crash mid-append. The file stays
			// intact, nothing past this offset is replayed.
			j.log.Warnw("segment has a corrupt tail, stopping replay of this file",
				"path", path, "offset", offset, "error", err)
			break
		}
		if err != nil {
			return count, highest, errs.NewJournalError(errs.CategoryReplay, "read record", err)
		}

		value, err := j.reader.ReadEntry(payload, header.Type)
		if err != nil {
			return count, highest, errs.NewJournalError(errs.CategoryReplay, "decode entry", err)
		}

		j.notifyReplay(j.listener, domain.Record[V]{
			ID:        header.RecordID,
			Type:      header.Type,
			Value:     value,
			LogNumber: logNumber,
			Offset:    offset,
		})

		if header.RecordID > highest {
			highest = header.RecordID
		}
		count++
	}

	if err := j.dir.PushHead(segment.Reopened(path, r.Header(), r.Size())); err != nil {
		return count, highest, errs.NewJournalError(errs.CategoryReplay, "register replayed segment", err)
	}
	return count, highest, nil
}
