package journal

import (
	"fmt"

	errs "github.com/qqcong/replikate/pkg/errors"
	"github.com/qqcong/replikate/pkg/fs"
)

func validate[V any](cfg *Config[V]) error {
	if cfg == nil {
		return errs.NewValidationError("config", nil, fmt.Errorf("config is required"))
	}

	if cfg.JournalPath == "" {
		return errs.NewValidationError("journalPath", cfg.JournalPath, fmt.Errorf("journal path is required"))
	}
	isDir, err := fs.IsDir(cfg.JournalPath)
	if err != nil {
		return errs.NewValidationError("journalPath", cfg.JournalPath, err)
	}
	if !isDir {
		return errs.NewValidationError("journalPath", cfg.JournalPath, fmt.Errorf("journal path is not a directory"))
	}

	if cfg.MaxLogFileSize == 0 {
		return errs.NewValidationError("maxLogFileSize", cfg.MaxLogFileSize, fmt.Errorf("max log file size must be positive"))
	}

	if cfg.Writer == nil {
		return errs.NewValidationError("writer", nil, fmt.Errorf("entry writer is required"))
	}
	if cfg.Reader == nil {
		return errs.NewValidationError("reader", nil, fmt.Errorf("entry reader is required"))
	}
	if cfg.RecordIDs == nil {
		return errs.NewValidationError("recordIDs", nil, fmt.Errorf("record id generator is required"))
	}
	if cfg.Naming == nil {
		return errs.NewValidationError("naming", nil, fmt.Errorf("naming strategy is required"))
	}

	return nil
}
