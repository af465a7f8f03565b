package journal

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/qqcong/replikate/internal/adapters/idgen"
	"github.com/qqcong/replikate/internal/adapters/naming"
	"github.com/qqcong/replikate/internal/adapters/serialize"
	errs "github.com/qqcong/replikate/pkg/errors"
)

func TestReplayEquivalence(t *testing.T) {
	dir := t.TempDir()

	first := &recordingListener{}
	j := newTestJournal(t, dir, 110, first)
	// 110 byte ceiling, 8 byte payloads: three 25 byte frames per
	// segment (25 + 75 = 100), the fourth rolls over.
	for i := 0; i < 6; i++ {
		if err := j.AppendSync(entry(fmt.Sprintf("record-%d", i), 1)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := j.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	committed := first.Commits()
	if len(committed) != 6 {
		t.Fatalf("%d commits, want 6", len(committed))
	}

	second := &recordingListener{}
	reopened := newTestJournal(t, dir, 110, second)
	defer reopened.Close(context.Background())

	replays := second.Replays()
	if len(replays) != len(committed) {
		t.Fatalf("replayed %d records, want %d", len(replays), len(committed))
	}
	for i := range committed {
		if replays[i].ID != committed[i].ID {
			t.Fatalf("replay %d has id %d, want %d", i, replays[i].ID, committed[i].ID)
		}
		if string(replays[i].Value) != string(committed[i].Value) {
			t.Fatalf("replay %d is %q, want %q", i, replays[i].Value, committed[i].Value)
		}
		if replays[i].LogNumber != committed[i].LogNumber {
			t.Fatalf("replay %d in segment %d, want %d", i, replays[i].LogNumber, committed[i].LogNumber)
		}
	}

	// New ids resume strictly above the replayed high-water mark.
	if err := reopened.AppendSync(entry("fresh", 1)); err != nil {
		t.Fatalf("append after replay: %v", err)
	}
	commits := second.Commits()
	if len(commits) != 1 {
		t.Fatalf("%d commits after replay, want 1", len(commits))
	}
	if commits[0].ID <= committed[len(committed)-1].ID {
		t.Fatalf("fresh id %d not above replayed max %d",
			commits[0].ID, committed[len(committed)-1].ID)
	}
	// The fresh head continues the log number sequence.
	if commits[0].LogNumber != committed[len(committed)-1].LogNumber+1 {
		t.Fatalf("fresh record in segment %d, want %d",
			commits[0].LogNumber, committed[len(committed)-1].LogNumber+1)
	}
}

func TestReplayToleratesCrashTail(t *testing.T) {
	dir := t.TempDir()

	first := &recordingListener{}
	j := newTestJournal(t, dir, 110, first)
	for i := 0; i < 6; i++ {
		if err := j.AppendSync(entry(fmt.Sprintf("record-%d", i), 1)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := j.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Cut the second segment in the middle of its third record header,
	// as a crash mid-append would.
	frame := int64(17 + 8)
	cut := int64(25) + 2*frame + 9
	if err := os.Truncate(segmentPath(dir, 1), cut); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	second := &recordingListener{}
	reopened := newTestJournal(t, dir, 110, second)
	defer reopened.Close(context.Background())

	replays := second.Replays()
	if len(replays) != 5 {
		t.Fatalf("replayed %d records, want 5", len(replays))
	}
	for i, record := range replays {
		want := fmt.Sprintf("record-%d", i)
		if string(record.Value) != want {
			t.Fatalf("replay %d is %q, want %q", i, record.Value, want)
		}
	}

	// The truncated file is kept intact, not repaired.
	stat, err := os.Stat(segmentPath(dir, 1))
	if err != nil {
		t.Fatalf("stat truncated segment: %v", err)
	}
	if stat.Size() != cut {
		t.Fatalf("truncated segment resized to %d bytes", stat.Size())
	}
}

func TestReplayFailsOnBadMagic(t *testing.T) {
	dir := t.TempDir()

	j := newTestJournal(t, dir, 4096, &recordingListener{})
	if err := j.AppendSync(entry("something", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Corrupt the magic of the only segment.
	path := segmentPath(dir, 0)
	file, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := file.WriteAt([]byte("XXXX"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	file.Close()

	_, err = New(&Config[[]byte]{
		Name:           "test",
		JournalPath:    dir,
		MaxLogFileSize: 4096,
		Writer:         serialize.Raw{},
		Reader:         serialize.Raw{},
		RecordIDs:      idgen.NewSequence(0),
		Naming:         naming.NewSequential(),
	})
	if err == nil {
		t.Fatal("startup succeeded over a corrupt segment header")
	}
	je := errs.AsJournalError(err)
	if je == nil || je.Category != errs.CategoryReplay {
		t.Fatalf("want a replay journal error, got %v", err)
	}
}

func TestBatchAtomicityAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	first := &recordingListener{}
	j := newTestJournal(t, dir, 4096, first)
	batch := j.StartBatch()
	for i := 0; i < 5; i++ {
		if err := batch.Append(entry(fmt.Sprintf("batch-%d", i), 3)); err != nil {
			t.Fatalf("batch append: %v", err)
		}
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := j.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := &recordingListener{}
	reopened := newTestJournal(t, dir, 4096, second)
	defer reopened.Close(context.Background())

	replays := second.Replays()
	if len(replays) != 5 {
		t.Fatalf("replayed %d records, want all 5 batch records", len(replays))
	}
	for i, record := range replays {
		want := fmt.Sprintf("batch-%d", i)
		if string(record.Value) != want {
			t.Fatalf("replay %d is %q, want %q", i, record.Value, want)
		}
		if record.Type != 3 {
			t.Fatalf("replay %d has type %d, want 3", i, record.Type)
		}
	}
}

func TestStartupOnEmptyDirectorySkipsReplay(t *testing.T) {
	dir := t.TempDir()
	listener := &recordingListener{}

	j := newTestJournal(t, dir, 4096, listener)
	defer j.Close(context.Background())

	if len(listener.Replays()) != 0 {
		t.Fatalf("replayed %d records from an empty directory", len(listener.Replays()))
	}
	if j.LastRecordID() != 0 {
		t.Fatalf("last record id %d on a fresh journal", j.LastRecordID())
	}
}
