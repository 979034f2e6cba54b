package stampdb

import (
	"math"

	"github.com/tinkerator/stampdb/internal/codec"
	"github.com/tinkerator/stampdb/internal/crc32c"
	"github.com/tinkerator/stampdb/internal/ring"
)

// builder accumulates samples for one series into a block, quantizing and
// publishing it through the ring when it fills, a new series needs a block,
// or Flush forces it closed (spec §4.3).
type builder struct {
	r *ring.Ring

	open      bool
	series    uint16
	t0        uint32
	lastTs    uint32
	min, max  float32
	dtBits    uint8
	maxDelta  uint32
	count     int
	deltas    [codec.MaxSamplesPerBlock]uint32
	vals      [codec.MaxSamplesPerBlock]float32
}

func newBuilder(r *ring.Ring) *builder {
	return &builder{r: r}
}

// write appends one sample, finalizing the currently-open block first if it
// belongs to a different series or has no room left for this sample.
func (b *builder) write(series uint16, ts uint32, value float32) error {
	if b.open && b.series != series {
		if err := b.finalize(); err != nil {
			return err
		}
	}
	if !b.open {
		b.start(series, ts, value)
	}

	var dt uint32
	if b.count > 0 {
		dt = ts - b.lastTs
	}
	dtBits := b.dtBits
	if dt > 255 {
		dtBits = 16
	}

	// Over-provision the capacity estimate by one byte (spec §9 open
	// question: the per-sample footprint estimate is approximate).
	dtBytes := int(dtBits) / 8
	need := (b.count+1)*dtBytes + (b.count+1)*2 + 1
	if need > codec.PayloadSize {
		if err := b.finalize(); err != nil {
			return err
		}
		b.start(series, ts, value)
		dt = 0
		dtBits = b.dtBits
	}

	b.dtBits = dtBits
	b.deltas[b.count] = dt
	b.vals[b.count] = value
	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}
	if dt > b.maxDelta {
		b.maxDelta = dt
	}
	b.lastTs = ts
	b.count++

	if b.count == codec.MaxSamplesPerBlock {
		return b.finalize()
	}
	return nil
}

func (b *builder) start(series uint16, ts uint32, value float32) {
	b.open = true
	b.series = series
	b.t0 = ts
	b.lastTs = ts
	b.min = value
	b.max = value
	b.dtBits = 8
	b.maxDelta = 0
	b.count = 0
}

// flush forces the currently-open block closed, if any.
func (b *builder) flush() error {
	if !b.open {
		return nil
	}
	return b.finalize()
}

func (b *builder) finalize() error {
	count := b.count
	scale := (b.max - b.min) / 65535
	if b.max == b.min {
		scale = 1e-9
	}
	bias := (b.max + b.min) / 2

	qvals := make([]int16, count)
	for i := 0; i < count; i++ {
		qvals[i] = quantize(b.vals[i], bias, scale)
	}

	payload := make([]byte, codec.PayloadSize)
	if err := codec.EncodePayload(payload, b.dtBits, b.deltas[:count], qvals, count); err != nil {
		return err
	}

	header := codec.Header{
		Series:     b.series,
		Count:      uint16(count),
		T0Ms:       b.t0,
		DtBits:     b.dtBits,
		Bias:       bias,
		Scale:      scale,
		PayloadCRC: crc32c.Checksum(payload),
	}

	tLast := b.t0
	for i := 1; i < count; i++ {
		tLast += b.deltas[i]
	}

	b.open = false
	b.count = 0
	return b.r.Publish(header, payload, tLast)
}

func quantize(v, bias, scale float32) int16 {
	q := math.Round(float64((v - bias) / scale))
	if q > 32767 {
		q = 32767
	}
	if q < -32768 {
		q = -32768
	}
	return int16(q)
}
