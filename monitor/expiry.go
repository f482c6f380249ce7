package monitor

import (
	"time"

	"github.com/warp/car-insurance/insurance"
)

const (
	// GracePeriod is added to the local midnight that closes the end date.
	// A policy is valid through its whole end date plus one buffer day.
	GracePeriod = 24 * time.Hour

	// Window is how far back a pass looks for policies that just expired.
	Window = time.Hour

	// Interval separates two window passes.
	Interval = 10 * time.Minute
)

// ExpiryInstant returns the instant a policy ending on end lapses: the
// midnight following end, at the UTC offset now has, plus GracePeriod.
// A policy ending 2024-12-31 lapses at 2025-01-02T00:00.
//
// The offset at now is used even when the offset on end was different
// (DST). That is a known approximation.
func ExpiryInstant(end insurance.Date, now time.Time) time.Time {
	name, offset := now.Zone()
	return end.AddDays(1).MidnightIn(time.FixedZone(name, offset)).Add(GracePeriod)
}

type expiryState int

const (
	// expiry > now
	stateActive expiryState = iota
	// windowStart < expiry <= now
	stateJustExpired
	// expiry < windowStart
	stateBacklog
	// expiry == windowStart: neither fresh nor backlog
	stateWindowEdge
)

func classify(expiry, windowStart, now time.Time) expiryState {
	switch {
	case expiry.After(now):
		return stateActive
	case expiry.After(windowStart):
		return stateJustExpired
	case expiry.Before(windowStart):
		return stateBacklog
	default:
		return stateWindowEdge
	}
}

// candidateQuery builds the store prefilter for a pass.
//
// The startup pass takes the whole backlog up to today. The window pass
// only needs end dates whose expiry instant can fall in (windowStart, now]:
// expiry is midnight starting end+2, so end lies within
// [date(windowStart)-1, date(now)-2] and the range below contains it.
func candidateQuery(kind PassKind, now, windowStart time.Time) insurance.PendingExpirationQuery {
	q := insurance.PendingExpirationQuery{EndTo: insurance.DateOf(now)}
	if kind == PassWindow {
		q.EndFrom = insurance.DateOf(windowStart).AddDays(-1)
	}
	return q
}
