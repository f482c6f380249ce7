/*
Package insurance provides the car insurance domain: cars, owners, policies
and claims, plus the service that answers validity and history questions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Owner, Car: who drives what (VIN is unique)
  - Policy: a coverage window [StartDate, EndDate] for a car, with an
    expiration marker set once by the expiration monitor
  - Claim: a damage claim against a car with a decimal amount
  - HistoryEntry: one row of the combined policy/claim timeline

DESIGN PRINCIPLES:
  1. Dates are calendar dates (Date), never instants
  2. Money uses decimal.Decimal to avoid floating-point errors
  3. Typed IDs prevent mixing car/policy/claim identifiers

SEE ALSO:
  - store.go: persistence interfaces
  - service.go: car listing, validity, claims, history
  - monitor package: expiration notifications
*/
package insurance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	OwnerID  int64
	CarID    int64
	PolicyID int64
	ClaimID  int64
)

// =============================================================================
// ENTITIES
// =============================================================================

// Owner is a person owning one or more cars.
type Owner struct {
	ID    OwnerID
	Name  string
	Email string
}

// Car is an insured vehicle. Owner is populated by listing queries.
type Car struct {
	ID                CarID
	VIN               string
	Make              string
	Model             string
	YearOfManufacture int
	OwnerID           OwnerID
	Owner             Owner
}

// Policy is an insurance coverage window for a car.
type Policy struct {
	ID        PolicyID
	CarID     CarID
	Provider  string
	StartDate Date
	EndDate   Date

	// ExpirationNotifiedAt is nil until the expiration monitor has handled
	// the policy. Once set it is never cleared.
	ExpirationNotifiedAt *time.Time
}

// Covers reports whether d falls inside [StartDate, EndDate].
func (p Policy) Covers(d Date) bool {
	return p.StartDate.BeforeOrEqual(d) && d.BeforeOrEqual(p.EndDate)
}

// Notified reports whether the expiration marker is set.
func (p Policy) Notified() bool {
	return p.ExpirationNotifiedAt != nil
}

// Validate checks the invariants required before a policy is stored.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Provider) == "" {
		return &ValidationError{Field: "provider", Message: "provider is required"}
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return &ValidationError{Field: "dates", Message: "start and end dates are required"}
	}
	if p.EndDate.Before(p.StartDate) {
		return ErrInvalidPeriod
	}
	return nil
}

// Claim is a damage claim filed against a car.
type Claim struct {
	ID          ClaimID
	CarID       CarID
	ClaimDate   Date
	Description string
	Amount      decimal.Decimal
}

// =============================================================================
// HISTORY
// =============================================================================

type HistoryEntryType string

const (
	HistoryPolicy HistoryEntryType = "Policy"
	HistoryClaim  HistoryEntryType = "Claim"
)

// HistoryEntry is one row of a car's combined timeline. EndDate is zero and
// Amount is nil for claims and policies respectively.
type HistoryEntry struct {
	Type      HistoryEntryType
	StartDate Date
	EndDate   Date
	Details   string
	Amount    *decimal.Decimal
}
