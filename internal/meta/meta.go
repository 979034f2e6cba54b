// Package meta implements StampDB's metadata store: two parity-toggled A/B
// snapshot sectors plus one advisory head-hint sector, each holding a
// single 256 B record inside an otherwise-erased 4 KiB sector. The pattern
// — erase the sector, binary.Write the record into a buffer, program one
// page, and treat an all-0xFF readback as "absent" — is adapted directly
// from the teacher's readMeta/writeMeta (_examples/tinkerator-qftool,
// qftool.go), generalized from a single record type to two (Snapshot and
// Hint) and CRC-protected as stampdb's spec §4.7 requires (the teacher only
// CRC-protects the data section it describes, not its own metadata).
package meta

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tinkerator/stampdb/internal/crc32c"
	"github.com/tinkerator/stampdb/platform"
)

const (
	sectorSize = 4096
	recordSize = 256

	sectorOffsetA    = 0
	sectorOffsetB    = sectorSize
	sectorOffsetHint = 2 * sectorSize

	// Reserved is the total flash carved off the top of the device for
	// the metadata region: three sectors, one of which (the hint) is
	// smaller than a sector's worth of actual payload but still
	// occupies a whole erase unit.
	Reserved = 3 * sectorSize
)

// SnapshotVersion is stamped into every snapshot record so a future format
// change can be detected instead of silently misread.
const SnapshotVersion = 1

// Snapshot captures the ring's head/tail cursors and epoch as of the
// moment it was saved.
type Snapshot struct {
	Version    uint32
	EpochID    uint32
	SegSeqHead uint32
	SegSeqTail uint32
	HeadAddr   uint32
}

// Hint is the advisory head-address record: cheaper to keep current than a
// full snapshot, but never trusted over recovery's own scan (spec §4.4
// step 3, §9 "parity-toggled A/B").
type Hint struct {
	HeadAddr uint32
	SegSeqNo uint32
}

// Store owns the three metadata sectors at the top of a flash device.
type Store struct {
	flash platform.Flash
	base  uint32 // absolute address of sector A; B and the hint sector follow it
}

// NewStore returns a Store whose three sectors start at base, which must be
// Reserved bytes from the end of flash (flashSize - Reserved, per spec
// §6.3) and 4096-byte aligned.
func NewStore(flash platform.Flash, base uint32) *Store {
	return &Store{flash: flash, base: base}
}

func (s *Store) addrA() uint32    { return s.base + sectorOffsetA }
func (s *Store) addrB() uint32    { return s.base + sectorOffsetB }
func (s *Store) addrHint() uint32 { return s.base + sectorOffsetHint }

// packRecord serializes fields (already in wire order) into a 256 B page
// image: fields, then a CRC-32C over fields, then 0xFF padding.
func packRecord(fields []byte) ([]byte, error) {
	if len(fields)+4 > recordSize {
		return nil, errors.Errorf("meta: record fields (%d bytes) plus CRC overrun the %d byte record", len(fields), recordSize)
	}
	page := make([]byte, recordSize)
	for i := range page {
		page[i] = 0xFF
	}
	copy(page, fields)
	crc := crc32c.Checksum(fields)
	binary.LittleEndian.PutUint32(page[len(fields):len(fields)+4], crc)
	return page, nil
}

// readRecord reads the 256 B record at addr. It reports present=false
// (with a nil error) for an all-0xFF page — the "Empty" state of the
// §4.7 Empty -> Writing -> Valid state machine — and also for a page whose
// stored CRC does not match, since both are indistinguishable from
// "absent" to every caller.
func readRecord(flash platform.Flash, addr uint32, fieldsLen int) (fields []byte, present bool, err error) {
	page := make([]byte, recordSize)
	if err := flash.ReadAt(addr, page); err != nil {
		return nil, false, errors.Wrapf(err, "meta: read record at 0x%08x", addr)
	}
	allFF := true
	for _, b := range page {
		if b != 0xFF {
			allFF = false
			break
		}
	}
	if allFF {
		return nil, false, nil
	}
	if fieldsLen+4 > recordSize {
		return nil, false, errors.Errorf("meta: fieldsLen %d invalid", fieldsLen)
	}
	wantCRC := binary.LittleEndian.Uint32(page[fieldsLen : fieldsLen+4])
	gotCRC := crc32c.Checksum(page[:fieldsLen])
	if wantCRC != gotCRC {
		return nil, false, nil
	}
	return page[:fieldsLen], true, nil
}

const snapshotFieldsLen = 5 * 4 // Version, EpochID, SegSeqHead, SegSeqTail, HeadAddr

func encodeSnapshot(s Snapshot) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, s.Version)
	binary.Write(buf, binary.LittleEndian, s.EpochID)
	binary.Write(buf, binary.LittleEndian, s.SegSeqHead)
	binary.Write(buf, binary.LittleEndian, s.SegSeqTail)
	binary.Write(buf, binary.LittleEndian, s.HeadAddr)
	return buf.Bytes()
}

func decodeSnapshot(fields []byte) (Snapshot, error) {
	var s Snapshot
	r := bytes.NewReader(fields)
	for _, dst := range []*uint32{&s.Version, &s.EpochID, &s.SegSeqHead, &s.SegSeqTail, &s.HeadAddr} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return Snapshot{}, errors.Wrap(err, "meta: decode snapshot")
		}
	}
	return s, nil
}

const hintFieldsLen = 2 * 4 // HeadAddr, SegSeqNo

func encodeHint(h Hint) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h.HeadAddr)
	binary.Write(buf, binary.LittleEndian, h.SegSeqNo)
	return buf.Bytes()
}

func decodeHint(fields []byte) (Hint, error) {
	var h Hint
	r := bytes.NewReader(fields)
	if err := binary.Read(r, binary.LittleEndian, &h.HeadAddr); err != nil {
		return Hint{}, errors.Wrap(err, "meta: decode hint")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.SegSeqNo); err != nil {
		return Hint{}, errors.Wrap(err, "meta: decode hint")
	}
	return h, nil
}

func (s *Store) writeSector(addr uint32, fields []byte) error {
	page, err := packRecord(fields)
	if err != nil {
		return err
	}
	if err := s.flash.EraseSector(addr); err != nil {
		return errors.Wrapf(err, "meta: erase sector at 0x%08x", addr)
	}
	if err := s.flash.ProgramPage(addr, page); err != nil {
		return errors.Wrapf(err, "meta: program record at 0x%08x", addr)
	}
	return nil
}

// LoadSnapshot reads both A and B copies and returns the CRC-valid one with
// the larger SegSeqHead, as the spec's parity scheme guarantees at least
// one to be valid barring the excluded double-failure case (spec §1
// Non-goals). ok is false if neither copy is present and CRC-valid.
func (s *Store) LoadSnapshot() (snap Snapshot, ok bool, err error) {
	fieldsA, presentA, err := readRecord(s.flash, s.addrA(), snapshotFieldsLen)
	if err != nil {
		return Snapshot{}, false, err
	}
	fieldsB, presentB, err := readRecord(s.flash, s.addrB(), snapshotFieldsLen)
	if err != nil {
		return Snapshot{}, false, err
	}
	var a, b Snapshot
	if presentA {
		if a, err = decodeSnapshot(fieldsA); err != nil {
			presentA = false
		}
	}
	if presentB {
		if b, err = decodeSnapshot(fieldsB); err != nil {
			presentB = false
		}
	}
	switch {
	case presentA && presentB:
		if a.SegSeqHead >= b.SegSeqHead {
			return a, true, nil
		}
		return b, true, nil
	case presentA:
		return a, true, nil
	case presentB:
		return b, true, nil
	default:
		return Snapshot{}, false, nil
	}
}

// SaveSnapshot writes snap to whichever of A/B the parity of
// snap.SegSeqHead selects: A when odd, B when even. The copy not selected
// is left untouched, so a crash mid-save still leaves one valid copy on
// flash (spec §4.7, §9).
func (s *Store) SaveSnapshot(snap Snapshot) error {
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	addr := s.addrB()
	if snap.SegSeqHead%2 == 1 {
		addr = s.addrA()
	}
	return s.writeSector(addr, encodeSnapshot(snap))
}

// LoadHint reads the advisory head-hint record. ok is false if it is
// absent or CRC-invalid; callers must never treat ok as a substitute for
// recovery's own scan (spec §9).
func (s *Store) LoadHint() (hint Hint, ok bool, err error) {
	fields, present, err := readRecord(s.flash, s.addrHint(), hintFieldsLen)
	if err != nil || !present {
		return Hint{}, false, err
	}
	hint, err = decodeHint(fields)
	if err != nil {
		return Hint{}, false, nil
	}
	return hint, true, nil
}

// SaveHint overwrites the head-hint record.
func (s *Store) SaveHint(hint Hint) error {
	return s.writeSector(s.addrHint(), encodeHint(hint))
}
