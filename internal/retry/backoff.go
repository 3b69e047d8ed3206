package retry

import "time"

// ExponentialBackoff doubles the delay per attempt, starting at Initial and capped at Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Next returns the delay before retry number attempt (1-based).
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
