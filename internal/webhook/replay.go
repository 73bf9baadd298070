package webhook

import "time"

// DefaultReplayWindow is the maximum tolerated distance between the
// declared delivery timestamp and the server clock.
const DefaultReplayWindow = 5 * time.Minute

// ReplayGuard rejects webhook deliveries whose declared timestamp falls
// outside the freshness window. A captured delivery replayed later fails
// this check even though its signature is still valid.
type ReplayGuard struct {
	maxAge time.Duration
}

// NewReplayGuard creates a ReplayGuard with the given window. A zero or
// negative window falls back to DefaultReplayWindow.
func NewReplayGuard(maxAge time.Duration) *ReplayGuard {
	if maxAge <= 0 {
		maxAge = DefaultReplayWindow
	}
	return &ReplayGuard{maxAge: maxAge}
}

// IsFresh reports whether the RFC 3339 timestamp is within the window of
// now. An unparsable timestamp is not fresh (fail closed). The age is
// taken as an absolute value so that clock-skew-induced future timestamps
// are bounded the same way as stale ones.
func (g *ReplayGuard) IsFresh(timestamp string, now time.Time) bool {
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return false
	}

	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	return age < g.maxAge
}
