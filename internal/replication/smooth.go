package replication

import (
	"math"
	"time"
)

// Smoothing factors applied per tick when converging local presentation
// onto a received snapshot. Pose converges within a few ticks so visible
// lag stays under roughly one round trip; secondary quantities trail
// slower so they do not visibly snap.
const (
	PoseSmoothing      = 0.35
	SecondarySmoothing = 0.12
)

// StepToward moves current a fraction of the remaining distance to target.
func StepToward(current, target, factor float64) float64 {
	return current + (target-current)*factor
}

// StepAngle is StepToward along the shortest angular path. Inputs and
// output are radians; the result is normalized.
func StepAngle(current, target, factor float64) float64 {
	return NormalizeAngle(current + NormalizeAngle(target-current)*factor)
}

// NormalizeAngle wraps a into (-π, π].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Extrapolate advances a coordinate by its velocity over the wall-clock
// time elapsed since the last snapshot, hiding the snapshot cadence.
func Extrapolate(pos, vel float64, elapsed time.Duration) float64 {
	return pos + vel*elapsed.Seconds()
}
