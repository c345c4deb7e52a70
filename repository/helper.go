package repository

import (
	"math/rand"
	"time"
)

// maximum fraction by which a sync interval is shifted either way
const jitterFactor = 0.3

// jitteredInterval returns a duration drawn uniformly from
// [duration*(1-jitterFactor), duration*(1+jitterFactor)] so that
// tracked repositories do not sync in lockstep.
func jitteredInterval(duration time.Duration) time.Duration {
	factor := 1 + jitterFactor*(2*rand.Float64()-1)
	return time.Duration(float64(duration) * factor)
}
