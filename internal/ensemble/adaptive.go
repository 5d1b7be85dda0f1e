package ensemble

import "time"

// adaptiveController implements the bounded three-band adjustment described
// in §9 ("Adaptive polling via a fuzzy-inference engine"): interval grows
// when the previous tick was slow or failed (member seems under load or
// unreachable), shrinks when it was fast and successful, and stays within
// [min,max]. It keeps no state w.r.t. correctness: next() is a pure
// function of its inputs plus the last interval.
type adaptiveController struct {
	min, max time.Duration
	fast     time.Duration // below this, tighten the interval
	slow     time.Duration // above this (or on failure), loosen it
	last     time.Duration
}

func newAdaptiveController(base time.Duration) *adaptiveController {
	return &adaptiveController{
		min:  base / 4,
		max:  base * 4,
		fast: base / 10,
		slow: base / 2,
		last: base,
	}
}

// next computes the following poll interval given the prior tick's observed
// latency and whether it succeeded.
func (c *adaptiveController) next(latency time.Duration, ok bool) time.Duration {
	band := c.last
	switch {
	case !ok || latency >= c.slow:
		band = c.last * 2
	case latency <= c.fast:
		band = c.last / 2
	}

	if band < c.min {
		band = c.min
	}
	if band > c.max {
		band = c.max
	}
	c.last = band
	return band
}
