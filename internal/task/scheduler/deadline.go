package scheduler

import (
	"fmt"
	"math"
	"time"
)

// maxUnixSeconds bounds float deadlines well inside time.Time's range.
const maxUnixSeconds = 1e12

// DeadlineFromUnix converts float epoch seconds into a deadline, rejecting
// NaN, infinities and values time.Time cannot represent.
func DeadlineFromUnix(sec float64) (time.Time, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || math.Abs(sec) > maxUnixSeconds {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDeadline, sec)
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)), nil
}
