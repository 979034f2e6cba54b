// Package simflash implements platform.Flash over an in-memory byte slice,
// optionally mirrored to a file on disk. It exists purely to let stampdb's
// own tests exercise the ring, metadata store, and recovery logic without
// real NOR hardware — the spec marks the platform glue that talks to real
// flash as an out-of-scope external collaborator (§1, §6.2).
//
// Its erase/program loop is adapted from the teacher's QF.Read/QF.Write
// (_examples/tinkerator-qftool, qftool.go): sector-aligned erase, bounds
// checking before every access, chunked page programming. The one
// semantic addition is that ProgramPage ANDs new bytes into old ones
// instead of overwriting, modeling the NOR "1 -> 0 only" constraint the
// spec's header-last publish trick depends on (spec §4.4) — qftool never
// needed this because it always erases before it writes.
package simflash

import (
	"os"

	"github.com/pkg/errors"
)

const (
	sectorSize = 4096
	pageSize   = 256
)

// Flash is an in-memory (optionally file-mirrored) NOR flash simulator.
type Flash struct {
	size uint32
	buf  []byte
	path string // non-empty enables disk mirroring
}

// New returns a size-byte flash image, fully erased (all 0xFF), with no
// disk mirroring. size must be a multiple of sectorSize.
func New(size uint32) (*Flash, error) {
	if size == 0 || size%sectorSize != 0 {
		return nil, errors.Errorf("simflash: size %d must be a positive multiple of %d", size, sectorSize)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &Flash{size: size, buf: buf}, nil
}

// Open returns a size-byte flash image mirrored to the file at path: every
// ReadAt reloads the buffer from that file first, and every EraseSector or
// ProgramPage persists the buffer back to it. This lets a test (or an
// external process) corrupt bytes on disk between two engine calls, which
// is how stampdb's power-cut and corruption scenarios are driven (spec §5,
// §8 scenarios 3-4) — this reload-on-every-read behavior is explicitly an
// external-collaborator/simulator property, not a core engine invariant.
// If the file does not exist, it is created fully erased.
func Open(path string, size uint32) (*Flash, error) {
	f, err := New(size)
	if err != nil {
		return nil, err
	}
	f.path = path
	if data, err := os.ReadFile(path); err == nil {
		if uint32(len(data)) != size {
			return nil, errors.Errorf("simflash: existing image %q is %d bytes, want %d", path, len(data), size)
		}
		f.buf = data
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "simflash: open %q", path)
	} else if err := f.persist(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flash) persist() error {
	if f.path == "" {
		return nil
	}
	if err := os.WriteFile(f.path, f.buf, 0o644); err != nil {
		return errors.Wrapf(err, "simflash: persist %q", f.path)
	}
	return nil
}

func (f *Flash) reload() error {
	if f.path == "" {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return errors.Wrapf(err, "simflash: reload %q", f.path)
	}
	if uint32(len(data)) != f.size {
		return errors.Errorf("simflash: reloaded image %q is %d bytes, want %d", f.path, len(data), f.size)
	}
	f.buf = data
	return nil
}

// ReadAt implements platform.Flash.
func (f *Flash) ReadAt(addr uint32, dst []byte) error {
	if err := f.reload(); err != nil {
		return err
	}
	if addr >= f.size || uint64(addr)+uint64(len(dst)) > uint64(f.size) {
		return errors.Errorf("simflash: read [0x%x,0x%x) outside [0,0x%x)", addr, uint64(addr)+uint64(len(dst)), f.size)
	}
	copy(dst, f.buf[addr:addr+uint32(len(dst))])
	return nil
}

// EraseSector implements platform.Flash.
func (f *Flash) EraseSector(addr uint32) error {
	if addr%sectorSize != 0 {
		return errors.Errorf("simflash: erase address 0x%x is not sector-aligned", addr)
	}
	if addr >= f.size {
		return errors.Errorf("simflash: erase address 0x%x outside [0,0x%x)", addr, f.size)
	}
	for i := uint32(0); i < sectorSize; i++ {
		f.buf[addr+i] = 0xFF
	}
	return f.persist()
}

// ProgramPage implements platform.Flash. It ANDs src into the existing
// page contents rather than overwriting, so that programming an already
// partially-programmed page (as the header-last publish sequence does)
// behaves exactly as real NOR flash would: bits already 0 stay 0.
func (f *Flash) ProgramPage(addr uint32, src []byte) error {
	if addr%pageSize != 0 {
		return errors.Errorf("simflash: program address 0x%x is not page-aligned", addr)
	}
	if len(src) != pageSize {
		return errors.Errorf("simflash: program payload is %d bytes, want %d", len(src), pageSize)
	}
	if addr >= f.size || uint64(addr)+pageSize > uint64(f.size) {
		return errors.Errorf("simflash: program address 0x%x outside [0,0x%x)", addr, f.size)
	}
	for i := 0; i < pageSize; i++ {
		f.buf[addr+uint32(i)] &= src[i]
	}
	return f.persist()
}

// SizeBytes implements platform.Flash.
func (f *Flash) SizeBytes() uint32 { return f.size }

// Poke directly overwrites len(data) bytes at addr, bypassing the NOR
// AND-only-clears-bits semantics ProgramPage enforces. Tests use this to
// inject torn-write and mid-page corruption scenarios (spec §8 scenarios
// 3-4) that a real program operation could never produce on its own but a
// power cut mid-erase conceivably could.
func (f *Flash) Poke(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(f.size) {
		return errors.Errorf("simflash: poke [0x%x,0x%x) outside [0,0x%x)", addr, uint64(addr)+uint64(len(data)), f.size)
	}
	copy(f.buf[addr:], data)
	return f.persist()
}

// Snapshot returns a copy of the current flash contents, for diagnostics.
func (f *Flash) Snapshot() []byte {
	out := make([]byte, len(f.buf))
	copy(out, f.buf)
	return out
}
