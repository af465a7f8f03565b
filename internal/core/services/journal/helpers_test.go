package journal

import (
	"sync"
	"testing"

	"github.com/qqcong/replikate/internal/adapters/idgen"
	"github.com/qqcong/replikate/internal/adapters/naming"
	"github.com/qqcong/replikate/internal/adapters/serialize"
	"github.com/qqcong/replikate/internal/core/domain"
	"github.com/qqcong/replikate/internal/core/ports"
)

// recordingListener captures every notification for assertions.
type recordingListener struct {
	mu       sync.Mutex
	commits  []domain.Record[[]byte]
	replays  []domain.Record[[]byte]
	failures []capturedFailure
}

type capturedFailure struct {
	failure ports.Failure[[]byte]
	err     error
}

func (l *recordingListener) OnCommit(record domain.Record[[]byte]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits = append(l.commits, record)
}

func (l *recordingListener) OnReplay(record domain.Record[[]byte]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replays = append(l.replays, record)
}

func (l *recordingListener) OnFailure(failure ports.Failure[[]byte], err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, capturedFailure{failure: failure, err: err})
}

func (l *recordingListener) Commits() []domain.Record[[]byte] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Record[[]byte](nil), l.commits...)
}

func (l *recordingListener) Replays() []domain.Record[[]byte] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Record[[]byte](nil), l.replays...)
}

func (l *recordingListener) Failures() []capturedFailure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capturedFailure(nil), l.failures...)
}

func newTestJournal(t *testing.T, dir string, maxSize uint32, listener ports.JournalListener[[]byte]) *Journal[[]byte] {
	t.Helper()

	j, err := New(&Config[[]byte]{
		Name:           "test",
		JournalPath:    dir,
		MaxLogFileSize: maxSize,
		Writer:         serialize.Raw{},
		Reader:         serialize.Raw{},
		RecordIDs:      idgen.NewSequence(0),
		Naming:         naming.NewSequential(),
		Listener:       listener,
	})
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return j
}

func entry(payload string, entryType uint8) domain.Entry[[]byte] {
	return domain.NewEntry([]byte(payload), entryType)
}

func segmentPath(dir string, logNumber uint64) string {
	return dir + "/" + naming.NewSequential().Generate(logNumber)
}
