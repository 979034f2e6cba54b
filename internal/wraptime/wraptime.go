// Package wraptime provides modular comparison helpers for the u32
// millisecond timestamps StampDB stores. The components that order or
// range-check a timestamp — the iterator, the zone map, the ring's epoch
// tracker — go through these functions so that a wraparound is handled
// identically everywhere.
package wraptime

// Le reports whether a is less than or equal to b under modular (mod 2^32)
// ordering: a <= b iff (b - a) < 2^31.
func Le(a, b uint32) bool {
	return b-a < 1<<31
}

// InRange reports whether t falls in the closed window [t0, t1] under
// modular ordering. When t0 <= t1 the window is contiguous; when t0 > t1 it
// wraps around 2^32 and contains everything at or after t0 or at or before
// t1.
func InRange(t, t0, t1 uint32) bool {
	if Le(t0, t1) {
		return Le(t0, t) && Le(t, t1)
	}
	return Le(t0, t) || Le(t, t1)
}

// WindowsOverlap reports whether the closed window [a0, a1] and the closed
// window [b0, b1] share at least one timestamp, under modular ordering. It
// is used by the zone map to decide whether a segment's (t_min, t_max) can
// be skipped for a query window [t0, t1]: the segment is relevant iff
// either of its endpoints falls in the query window, or the query window's
// start falls in the segment's window.
func WindowsOverlap(a0, a1, b0, b1 uint32) bool {
	return InRange(a0, b0, b1) || InRange(a1, b0, b1) || InRange(b0, a0, a1)
}
