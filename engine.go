package stampdb

import (
	"github.com/pkg/errors"

	"github.com/tinkerator/stampdb/internal/meta"
	"github.com/tinkerator/stampdb/internal/ring"
	"github.com/tinkerator/stampdb/platform"
)

// Row is one decoded, dequantized sample returned by an Iterator or
// QueryLatest.
type Row = ring.Row

// Stats mirrors the counters Info reports (spec §6.1).
type Stats = ring.Stats

// Engine is an open StampDB instance over one flash device. It is not
// safe for concurrent use: spec §5 specifies a single-threaded cooperative
// scheduling model, so the engine does no locking of its own.
type Engine struct {
	flash platform.Flash
	clock platform.Clock
	ring  *ring.Ring
	meta  *meta.Store
	cfg   Config
	b     *builder
}

// Open recovers (or initializes) an engine over flash, using clock for GC
// rate limiting and head-hint cadence. It fails with ErrInval if
// cfg.Workspace is smaller than MinWorkspaceBytes, or ErrNoSpace if flash
// cannot host the metadata region plus at least one ring segment.
func Open(flash platform.Flash, clock platform.Clock, cfg Config) (*Engine, error) {
	if len(cfg.Workspace) < MinWorkspaceBytes {
		return nil, errors.WithMessage(ErrInval, "workspace smaller than MinWorkspaceBytes")
	}
	size := flash.SizeBytes()
	if size <= meta.Reserved {
		return nil, errors.WithMessage(ErrNoSpace, "flash too small to host the metadata region")
	}
	numSegments := (size - meta.Reserved) / ring.SegmentSize
	if numSegments == 0 {
		return nil, errors.WithMessage(ErrNoSpace, "flash too small to host a single ring segment")
	}

	ms := meta.NewStore(flash, size-meta.Reserved)
	r := ring.New(flash, clock, numSegments, cfg.Blocking)
	if err := r.Recover(ms); err != nil {
		return nil, errors.Wrap(translateRingErr(err), "stampdb: recover")
	}
	if cfg.Logger != nil && r.Stats().RecoveryTruncations > 0 {
		cfg.Logger.Printf("stampdb: recovery truncated the head segment (%d truncation(s))", r.Stats().RecoveryTruncations)
	}

	return &Engine{
		flash: flash,
		clock: clock,
		ring:  r,
		meta:  ms,
		cfg:   cfg,
		b:     newBuilder(r),
	}, nil
}

// Close performs a best-effort Flush (spec §9 open question: the source's
// close is a no-op, but a correct implementation should flush) and releases
// nothing else — the flash image is owned by the caller for its lifetime.
func (e *Engine) Close() error {
	return e.Flush()
}

// Write appends one sample. It durably lands on flash only once the block
// it belongs to is published — by filling, by a different series starting
// a new block, or by a later Flush — not immediately on return (spec §5
// "Ordering guarantees").
func (e *Engine) Write(series uint16, tsMs uint32, value float32) error {
	if series >= 256 {
		return errors.WithMessagef(ErrInval, "series %d out of range [0,256)", series)
	}
	if err := e.ring.GCReclaim(e.clock.MillisNow()); err != nil {
		return translateRingErr(err)
	}
	e.ring.ObserveTimestamp(tsMs)
	if err := e.b.write(series, tsMs, value); err != nil {
		return translateRingErr(err)
	}
	return nil
}

// Flush forces the currently-open block to publish, if any. After Flush
// returns nil, every sample written before it is queryable across a
// restart.
func (e *Engine) Flush() error {
	if err := e.b.flush(); err != nil {
		return translateRingErr(err)
	}
	return nil
}

// QueryBegin starts a range query over [t0, t1] (inclusive, wrap-aware),
// restricted to seriesIDs, or to every series if seriesIDs is empty.
func (e *Engine) QueryBegin(seriesIDs []uint16, t0, t1 uint32) *ring.Iterator {
	return e.ring.QueryBegin(seriesIDs, t0, t1)
}

// QueryLatest returns the most recent sample for series.
func (e *Engine) QueryLatest(series uint16) (Row, bool, error) {
	row, ok, err := e.ring.QueryLatest(series)
	if err != nil {
		return Row{}, false, translateRingErr(err)
	}
	return row, ok, nil
}

// SnapshotSave persists the ring's current head/tail/epoch state so a
// future Open can skip most of recovery's footer scan in the common case.
func (e *Engine) SnapshotSave() error {
	if err := e.meta.SaveSnapshot(e.ring.SnapshotFields()); err != nil {
		return errors.Wrap(translateRingErr(err), "stampdb: snapshot save")
	}
	return nil
}

// Info returns a snapshot of the engine's counters (spec §6.1).
func (e *Engine) Info() Stats {
	return e.ring.Stats()
}

func translateRingErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ring.ErrBusy) {
		return ErrBusy
	}
	return errors.WithMessage(ErrIO, err.Error())
}
