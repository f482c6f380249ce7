/*
store.go - Persistence interfaces for the insurance domain

KEY INTERFACES:
  CarStore:        owners and cars (listing, existence)
  PolicyStore:     policy creation and per-car lookups
  ClaimStore:      claim creation and per-car lookups
  ExpirationStore: transactional access used by the expiration monitor
  Store:           all of the above

EXPIRATION CONTRACT:
  The monitor is the only writer of Policy.ExpirationNotifiedAt. It reads
  its candidates and writes the marker for the changed subset inside one
  WithinExpirationTx call, so a pass either commits all of its markers or
  none. MarkExpirationNotified must skip rows whose marker is already set.

IMPLEMENTATIONS:
  - store/sqldb: SQLite and PostgreSQL
  - store/memory: in-memory for testing
*/
package insurance

import (
	"context"
	"time"
)

// CarStore handles owners and cars.
type CarStore interface {
	CreateOwner(ctx context.Context, owner *Owner) error
	CountOwners(ctx context.Context) (int, error)

	// CreateCar returns ErrDuplicateVIN when the VIN is taken.
	CreateCar(ctx context.Context, car *Car) error

	// ListCars returns all cars with Owner populated, ordered by ID.
	ListCars(ctx context.Context) ([]Car, error)

	CarExists(ctx context.Context, id CarID) (bool, error)
}

// PolicyStore handles insurance policies.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, policy *Policy) error

	// GetPolicy returns ErrPolicyNotFound for unknown ids.
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)

	// ListPoliciesByCar returns the car's policies ordered by start date.
	ListPoliciesByCar(ctx context.Context, carID CarID) ([]Policy, error)

	// HasPolicyCovering reports whether any policy of the car covers date.
	HasPolicyCovering(ctx context.Context, carID CarID, date Date) (bool, error)
}

// ClaimStore handles claims.
type ClaimStore interface {
	CreateClaim(ctx context.Context, claim *Claim) error

	// ListClaimsByCar returns the car's claims ordered by claim date.
	ListClaimsByCar(ctx context.Context, carID CarID) ([]Claim, error)
}

// PendingExpirationQuery selects policies whose marker is not set and whose
// end date lies in [EndFrom, EndTo]. A zero EndFrom means no lower bound.
type PendingExpirationQuery struct {
	EndFrom Date
	EndTo   Date
}

// Matches applies the query to a single policy.
func (q PendingExpirationQuery) Matches(p Policy) bool {
	if p.Notified() {
		return false
	}
	if !q.EndFrom.IsZero() && p.EndDate.Before(q.EndFrom) {
		return false
	}
	return p.EndDate.BeforeOrEqual(q.EndTo)
}

// ExpirationTx is the view of the store available inside one monitor pass.
type ExpirationTx interface {
	PendingExpirations(ctx context.Context, q PendingExpirationQuery) ([]Policy, error)

	// MarkExpirationNotified sets the marker to at for every listed policy
	// whose marker is still unset.
	MarkExpirationNotified(ctx context.Context, ids []PolicyID, at time.Time) error
}

// ExpirationStore scopes an ExpirationTx to a single transaction. If fn
// returns an error nothing it wrote is kept.
type ExpirationStore interface {
	WithinExpirationTx(ctx context.Context, fn func(tx ExpirationTx) error) error
}

// Store is the full persistence surface.
type Store interface {
	CarStore
	PolicyStore
	ClaimStore
	ExpirationStore
}
