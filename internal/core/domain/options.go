package domain

// Options defines the configuration parameters recognized by the journal
// engine itself. Collaborators (entry codec, id generator, naming strategy,
// listener) are wired separately since they are application-provided.
type Options struct {
	// Name is a label used in diagnostics and log output.
	// It also names the background writer goroutine in log fields.
	Name string

	// JournalPath is an existing directory the journal owns. Segment files
	// are created directly inside it. Required.
	JournalPath string

	// MaxLogFileSize is the size ceiling for DEFAULT segments in bytes.
	// Records whose framed size exceeds it are routed to dedicated
	// OVERFLOW segments. Required, must be positive.
	MaxLogFileSize uint32

	// EnableMetrics toggles Prometheus counters for appends, rollovers,
	// batches and replay.
	EnableMetrics bool
}
