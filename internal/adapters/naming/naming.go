// Package naming provides the default segment file naming strategy.
package naming

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	prefix = "journal-"
	suffix = ".rpl"
	digits = 20 // enough for any uint64, keeps names lexicographically sorted
)

// Sequential names segments "journal-<zero padded log number>.rpl".
// The zero padding makes lexicographic order match numeric order.
type Sequential struct{}

// NewSequential returns the default naming strategy.
func NewSequential() Sequential {
	return Sequential{}
}

// Generate renders the file name for a log number.
func (Sequential) Generate(logNumber uint64) string {
	return fmt.Sprintf("%s%0*d%s", prefix, digits, logNumber, suffix)
}

// IsJournal reports whether name was produced by Generate.
func (Sequential) IsJournal(name string) bool {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	if len(middle) != digits {
		return false
	}
	for _, c := range middle {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ExtractLogNumber parses the log number back out of a file name.
func (Sequential) ExtractLogNumber(name string) (uint64, error) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, fmt.Errorf("not a journal file name: %s", name)
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	logNumber, err := strconv.ParseUint(middle, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing log number from %s: %w", name, err)
	}
	return logNumber, nil
}
