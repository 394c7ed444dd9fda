package session

import "crossinput/internal/ei"

// Point is a position in compositor logical coordinates.
type Point struct {
	X, Y int
}

// Clamp limits p to [x, x+width) × [y, y+height) of r. r must be non-empty.
func Clamp(p Point, r ei.Region) Point {
	return Point{
		X: clampAxis(p.X, int64(r.X), int64(r.Width)),
		Y: clampAxis(p.Y, int64(r.Y), int64(r.Height)),
	}
}

func clampAxis(v int, lo, size int64) int {
	hi := lo + size - 1
	switch {
	case int64(v) < lo:
		return int(lo)
	case int64(v) > hi:
		return int(hi)
	}
	return v
}

// Center returns the middle of r.
func Center(r ei.Region) Point {
	return Point{X: int(r.X + r.Width/2), Y: int(r.Y + r.Height/2)}
}

// CursorState holds the positions remembered when the pointer device cannot
// express what was asked directly. It belongs to one Session and starts
// empty with every new one.
type CursorState struct {
	last     Point
	hasLast  bool
	estimate Point
	seeded   bool
}

// RelativeTo returns the delta from the last known position to p and records
// p. The first call only records p and returns ok=false.
func (c *CursorState) RelativeTo(p Point) (dx, dy int, ok bool) {
	if !c.hasLast {
		c.last, c.hasLast = p, true
		return 0, 0, false
	}
	dx, dy = p.X-c.last.X, p.Y-c.last.Y
	c.last = p
	return dx, dy, true
}

// Moved shifts the last known position after a relative move made without
// RelativeTo.
func (c *CursorState) Moved(dx, dy int) {
	if c.hasLast {
		c.last.X += dx
		c.last.Y += dy
	}
}

// Advance moves the absolute estimate by (dx, dy) inside r and returns it.
// The estimate starts at the centre of r.
func (c *CursorState) Advance(dx, dy int, r ei.Region) Point {
	if !c.seeded {
		c.estimate, c.seeded = Center(r), true
	}
	c.estimate = Clamp(Point{X: c.estimate.X + dx, Y: c.estimate.Y + dy}, r)
	return c.estimate
}

// Placed records an absolute position that was sent to the device.
func (c *CursorState) Placed(p Point) {
	c.estimate, c.seeded = p, true
}

// Reset forgets every remembered position.
func (c *CursorState) Reset() {
	*c = CursorState{}
}
