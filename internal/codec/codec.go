// Package codec packs and unpacks a 256 B flash page: a 224 B payload of
// timestamp deltas and quantized values, followed by a 32 B header. The
// byte layout is bit-exact (field order is listed on PackHeader) because it is
// read back by a recovery scanner that has no other source of truth.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/tinkerator/stampdb/internal/crc32c"
)

const (
	// PageSize is the size in bytes of one flash page (one block).
	PageSize = 256
	// PayloadSize is the portion of a page holding deltas and values.
	PayloadSize = 224
	// HeaderSize is the portion of a page holding the block header.
	HeaderSize = 32

	// HeaderMagic is 'BLK1' little-endian.
	HeaderMagic uint32 = 0x424C4B31

	// MaxSamplesPerBlock is the largest count a block can hold (dt_bits=8).
	MaxSamplesPerBlock = 74
)

// ErrNotBlock is returned (wrapped with context) by UnpackHeader when the
// header magic or header CRC is wrong. A payload CRC that does not match
// what the header records is reported by VerifyPayloadCRC returning false,
// not by this error. Callers treat both as equivalent — "the block does not
// exist."
var ErrNotBlock = errors.New("codec: not a published block")

// Header is the decoded form of the 32 B trailer stamped after the
// payload.
type Header struct {
	Series    uint16
	Count     uint16
	T0Ms      uint32
	DtBits    uint8
	Bias      float32
	Scale     float32
	PayloadCRC uint32
}

// EncodePayload writes count deltas (each dtBits/8 bytes, little-endian)
// followed by count int16 little-endian quantized values into dst, which
// must be PayloadSize bytes. Unused trailing bytes are filled with 0xFF, as
// required for the "page defaults to erased" story during recovery.
func EncodePayload(dst []byte, dtBits uint8, deltas []uint32, qvals []int16, count int) error {
	if len(dst) != PayloadSize {
		return errors.Errorf("codec: payload buffer must be %d bytes, got %d", PayloadSize, len(dst))
	}
	if count < 0 || count > MaxSamplesPerBlock || count > len(deltas) || count > len(qvals) {
		return errors.Errorf("codec: invalid count %d", count)
	}
	dtBytes := int(dtBits) / 8
	if dtBytes != 1 && dtBytes != 2 {
		return errors.Errorf("codec: dtBits must be 8 or 16, got %d", dtBits)
	}
	need := count*dtBytes + count*2
	if need > PayloadSize {
		return errors.Errorf("codec: %d samples at dt_bits=%d need %d bytes, payload holds %d", count, dtBits, need, PayloadSize)
	}

	for i := 0; i < len(dst); i++ {
		dst[i] = 0xFF
	}

	off := 0
	for i := 0; i < count; i++ {
		if dtBytes == 1 {
			dst[off] = byte(deltas[i])
			off++
		} else {
			binary.LittleEndian.PutUint16(dst[off:], uint16(deltas[i]))
			off += 2
		}
	}
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint16(dst[off:], uint16(qvals[i]))
		off += 2
	}
	return nil
}

// DecodePayload reverses EncodePayload, reading count samples from src
// (which must be PayloadSize bytes) using dtBits-wide deltas.
func DecodePayload(src []byte, dtBits uint8, count int) (deltas []uint32, qvals []int16, err error) {
	if len(src) != PayloadSize {
		return nil, nil, errors.Errorf("codec: payload buffer must be %d bytes, got %d", PayloadSize, len(src))
	}
	if count < 0 || count > MaxSamplesPerBlock {
		return nil, nil, errors.Errorf("codec: invalid count %d", count)
	}
	dtBytes := int(dtBits) / 8
	if dtBytes != 1 && dtBytes != 2 {
		return nil, nil, errors.Errorf("codec: dtBits must be 8 or 16, got %d", dtBits)
	}
	if count*dtBytes+count*2 > PayloadSize {
		return nil, nil, errors.Errorf("codec: count %d with dt_bits=%d overruns payload", count, dtBits)
	}

	deltas = make([]uint32, count)
	qvals = make([]int16, count)

	off := 0
	for i := 0; i < count; i++ {
		if dtBytes == 1 {
			deltas[i] = uint32(src[off])
			off++
		} else {
			deltas[i] = uint32(binary.LittleEndian.Uint16(src[off:]))
			off += 2
		}
	}
	for i := 0; i < count; i++ {
		qvals[i] = int16(binary.LittleEndian.Uint16(src[off:]))
		off += 2
	}
	return deltas, qvals, nil
}

// PackHeader serializes h into dst (HeaderSize bytes) in the byte layout
// the spec pins: magic, series, count, t0, dt_bits, 3 reserved 0xFF bytes,
// bias, scale, payload CRC, header CRC. The header CRC covers bytes 0..27
// and is stamped into bytes 28..31.
func PackHeader(dst []byte, h Header) error {
	if len(dst) != HeaderSize {
		return errors.Errorf("codec: header buffer must be %d bytes, got %d", HeaderSize, len(dst))
	}
	binary.LittleEndian.PutUint32(dst[0:4], HeaderMagic)
	binary.LittleEndian.PutUint16(dst[4:6], h.Series)
	binary.LittleEndian.PutUint16(dst[6:8], h.Count)
	binary.LittleEndian.PutUint32(dst[8:12], h.T0Ms)
	dst[12] = h.DtBits
	dst[13], dst[14], dst[15] = 0xFF, 0xFF, 0xFF
	binary.LittleEndian.PutUint32(dst[16:20], math.Float32bits(h.Bias))
	binary.LittleEndian.PutUint32(dst[20:24], math.Float32bits(h.Scale))
	binary.LittleEndian.PutUint32(dst[24:28], h.PayloadCRC)
	hc := crc32c.Checksum(dst[0:28])
	binary.LittleEndian.PutUint32(dst[28:32], hc)
	return nil
}

// UnpackHeader parses src (HeaderSize bytes) and verifies its magic and
// header CRC. It returns ErrNotBlock (wrapped) on any verification failure
// — the spec does not distinguish "bad magic" from "bad CRC" at the call
// site.
func UnpackHeader(src []byte) (Header, error) {
	var h Header
	if len(src) != HeaderSize {
		return h, errors.Errorf("codec: header buffer must be %d bytes, got %d", HeaderSize, len(src))
	}
	magic := binary.LittleEndian.Uint32(src[0:4])
	wantCRC := binary.LittleEndian.Uint32(src[28:32])
	gotCRC := crc32c.Checksum(src[0:28])
	if magic != HeaderMagic || wantCRC != gotCRC {
		return h, errors.WithMessage(ErrNotBlock, "header magic or CRC mismatch")
	}
	h.Series = binary.LittleEndian.Uint16(src[4:6])
	h.Count = binary.LittleEndian.Uint16(src[6:8])
	h.T0Ms = binary.LittleEndian.Uint32(src[8:12])
	h.DtBits = src[12]
	h.Bias = math.Float32frombits(binary.LittleEndian.Uint32(src[16:20]))
	h.Scale = math.Float32frombits(binary.LittleEndian.Uint32(src[20:24]))
	h.PayloadCRC = binary.LittleEndian.Uint32(src[24:28])
	return h, nil
}

// VerifyPayloadCRC reports whether payload's CRC-32C matches want.
func VerifyPayloadCRC(payload []byte, want uint32) bool {
	return crc32c.Checksum(payload) == want
}
