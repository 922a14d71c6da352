package rotator

import "time"

// Throttle rejects commands until a previously estimated move has had
// time to finish. It does not queue.
type Throttle struct {
	// Now defaults to time.Now.
	Now  func() time.Time
	next time.Time
}

func (t *Throttle) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Ready reports whether a new command may be issued.
func (t *Throttle) Ready() bool {
	return !t.now().Before(t.next)
}

// Hold blocks new commands for d from now.
func (t *Throttle) Hold(d time.Duration) {
	t.next = t.now().Add(d)
}

// Next returns the time the next command is permitted.
func (t *Throttle) Next() time.Time {
	return t.next
}

func (t *Throttle) Reset() {
	t.next = time.Time{}
}

// Wrap360 folds an angle into [0, 360).
func Wrap360(angle float64) float64 {
	for angle >= 360 {
		angle -= 360
	}
	for angle < 0 {
		angle += 360
	}
	return angle
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
