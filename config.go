package stampdb

// MinWorkspaceBytes is the smallest workspace Open accepts (spec §6.1).
const MinWorkspaceBytes = 4096

// Config configures Open. Workspace stands in for the source's
// caller-supplied RAM buffer (spec §3 "Ownership & lifecycle", §9
// "Ownership without raw pointers"): Open validates its size but the
// engine's own state (zone map, staging arrays) is ordinary
// garbage-collected Go state, not a manually carved-out view into it.
type Config struct {
	// Workspace must be at least MinWorkspaceBytes.
	Workspace []byte
	// ReadBatchRows is advisory: it hints how many rows a caller intends
	// to pull per Iterator.Next-loop iteration; the engine does not use it
	// to size anything internally.
	ReadBatchRows int
	// CommitIntervalMs is reserved for a future time-based auto-flush; the
	// current engine only flushes a block when it fills or Flush is
	// called explicitly.
	CommitIntervalMs uint64
	// Blocking selects GC behavior when the erase-rate quota is exhausted:
	// true busy-waits (spec §4.4, §5), false returns ErrBusy immediately.
	Blocking bool
	// Logger receives advisory diagnostics. Nil disables them.
	Logger Logger
}
