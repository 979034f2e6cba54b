package stampdb

import "github.com/pkg/errors"

// Sentinel errors matching the taxonomy in spec §6.4/§7. Call sites that
// need to attach context wrap one of these with errors.Wrap/WithMessage;
// callers recover the sentinel with errors.Cause or errors.Is.
var (
	// ErrInval is returned for bad arguments: series >= 256 or a workspace
	// smaller than MinWorkspaceBytes. Open checks the flash geometry only
	// for size (see ErrNoSpace); no other geometry check returns ErrInval.
	ErrInval = errors.New("stampdb: invalid argument")
	// ErrBusy is returned when GC's erase-rate quota is exhausted and the
	// engine was configured non-blocking.
	ErrBusy = errors.New("stampdb: busy")
	// ErrNoSpace is returned when the flash device cannot host even one
	// ring segment after the metadata region is reserved.
	ErrNoSpace = errors.New("stampdb: no space")
	// ErrCRC is returned when a caller-visible operation observes a header
	// or payload CRC mismatch it cannot route around. No operation returns
	// it today: iteration abandons the offending segment, and recovery
	// stops the head-segment probe at the offending page; both bump
	// crc_errors on a payload CRC mismatch.
	ErrCRC = errors.New("stampdb: crc mismatch")
	// ErrIO is returned when an underlying platform.Flash call fails.
	ErrIO = errors.New("stampdb: i/o error")
)
