package simflash

// Clock is a manually-advanced platform.Clock for deterministic tests: the
// real target has a free-running hardware timer, but a test needs to
// control exactly when "2000 ms since the last hint" (spec §4.4) elapses.
type Clock struct {
	now uint64
}

// NewClock returns a Clock starting at ms.
func NewClock(ms uint64) *Clock { return &Clock{now: ms} }

// MillisNow implements platform.Clock.
func (c *Clock) MillisNow() uint64 { return c.now }

// Advance moves the clock forward by delta milliseconds.
func (c *Clock) Advance(delta uint64) { c.now += delta }

// Set pins the clock to an absolute millisecond value.
func (c *Clock) Set(ms uint64) { c.now = ms }
