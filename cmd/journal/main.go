package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/qqcong/replikate/config"
	"github.com/qqcong/replikate/internal/adapters/idgen"
	"github.com/qqcong/replikate/internal/adapters/naming"
	"github.com/qqcong/replikate/internal/adapters/serialize"
	"github.com/qqcong/replikate/internal/core/domain"
	"github.com/qqcong/replikate/internal/core/ports"
	"github.com/qqcong/replikate/internal/core/services/journal"
	"github.com/qqcong/replikate/pkg/errors"
	"github.com/qqcong/replikate/pkg/logger"
	"github.com/qqcong/replikate/pkg/metrics"
)

// loggingListener prints every notification the journal delivers.
type loggingListener struct {
	log *zap.SugaredLogger
}

func (l loggingListener) OnCommit(record domain.Record[serialize.Op]) {
	l.log.Infow("committed", "recordId", record.ID, "key", record.Value.Key, "logNumber", record.LogNumber)
}

func (l loggingListener) OnReplay(record domain.Record[serialize.Op]) {
	l.log.Infow("replayed", "recordId", record.ID, "key", record.Value.Key, "logNumber", record.LogNumber)
}

func (l loggingListener) OnFailure(failure ports.Failure[serialize.Op], err error) {
	l.log.Errorw("journal failure", "error", err)
}

func main() {
	log := logger.New("journal")
	defer log.Sync()

	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Errorw("load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := os.MkdirAll(cfg.Journal.Path, 0o755); err != nil {
		log.Errorw("create journal directory", "error", err)
		os.Exit(1)
	}

	if cfg.EnableMetrics {
		metrics.Serve(cfg.MetricsPort)
	}

	codec := serialize.OpCodec{}
	j, err := journal.New(&journal.Config[serialize.Op]{
		Name:           cfg.Journal.Name,
		JournalPath:    cfg.Journal.Path,
		MaxLogFileSize: cfg.Journal.MaxLogFileSize,
		EnableMetrics:  cfg.EnableMetrics,
		Writer:         codec,
		Reader:         codec,
		RecordIDs:      idgen.NewSequence(0),
		Naming:         naming.NewSequential(),
		Listener:       loggingListener{log: log},
		Logger:         log,
	})
	if err != nil {
		if errors.IsValidationError(err) {
			ve := errors.AsValidationError(err)
			log.Errorw("create journal", "field", ve.Field, "value", ve.Value, "error", ve.Err)
		} else {
			log.Errorw("create journal", "error", err)
		}
		os.Exit(1)
	}

	// A synchronous append is durable once the call returns.
	if err := j.AppendSync(domain.NewEntry(serialize.Op{Key: "alpha", Value: "1"}, 1)); err != nil {
		log.Errorw("append sync", "error", err)
	}

	// Asynchronous appends are acknowledged through the listener from the
	// writer goroutine.
	for i := 0; i < 3; i++ {
		op := serialize.Op{Key: fmt.Sprintf("async-%d", i), Value: fmt.Sprint(i)}
		if err := j.Append(domain.NewEntry(op, 1)); err != nil {
			log.Errorw("append", "error", err)
		}
	}

	// Batches commit atomically into their own exactly sized segment.
	batch := j.StartBatch()
	for i := 0; i < 5; i++ {
		op := serialize.Op{Key: fmt.Sprintf("batch-%d", i), Value: fmt.Sprint(i)}
		if err := batch.Append(domain.NewEntry(op, 2)); err != nil {
			log.Errorw("batch append", "error", err)
		}
	}
	if err := batch.Commit(); err != nil {
		log.Errorw("batch commit", "error", err)
	}

	if err := j.Close(context.Background()); err != nil {
		log.Errorw("close journal", "error", err)
	}

	log.Infow("done", "lastRecordId", j.LastRecordID())
}
