package worker

import "time"

// transition is a change of a camera's reachability
type transition int

const (
	noChange transition = iota
	wentOnline
	wentOffline
)

// availability tracks consecutive fetch outcomes of one camera
type availability struct {
	// ConsecutiveFailures is the number of failed fetches since the last success
	ConsecutiveFailures int

	// ConsecutiveSuccesses is the number of successful fetches since the last failure
	ConsecutiveSuccesses int

	// LastFetch is when the last fetch finished
	LastFetch time.Time

	// Online is false once the failure threshold was reached, until the next success
	Online bool
}

func newAvailability() *availability {
	return &availability{
		Online: true, // Assume online until proven otherwise
	}
}

// update records one fetch outcome and reports whether the camera changed state
func (a *availability) update(ok bool, at time.Time, offlineAfter int) transition {
	a.LastFetch = at

	if ok {
		a.ConsecutiveSuccesses++
		a.ConsecutiveFailures = 0

		if !a.Online {
			a.Online = true
			return wentOnline
		}
		return noChange
	}

	a.ConsecutiveFailures++
	a.ConsecutiveSuccesses = 0

	if a.Online && a.ConsecutiveFailures >= offlineAfter {
		a.Online = false
		return wentOffline
	}
	return noChange
}
