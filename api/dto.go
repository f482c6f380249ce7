/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes of requests and responses. Keeps the API contract
  separate from the domain types in package insurance.

CONVENTIONS:
  - Field names are camelCase
  - Dates are "YYYY-MM-DD" strings, null when absent
  - Money is a JSON number carrying the exact decimal value

SEE ALSO:
  - handlers.go: Uses these DTOs
  - insurance/types.go: Domain types these map from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/car-insurance/insurance"
	"github.com/warp/car-insurance/monitor"
)

func init() {
	// Amounts go out as numbers (1200.5), not strings ("1200.5").
	decimal.MarshalJSONWithoutQuotes = true
}

// =============================================================================
// CAR DTOs
// =============================================================================

// CarDTO is a car together with its owner.
type CarDTO struct {
	ID                int64  `json:"id"`
	VIN               string `json:"vin"`
	Make              string `json:"make"`
	Model             string `json:"model"`
	YearOfManufacture int    `json:"yearOfManufacture"`
	OwnerID           int64  `json:"ownerId"`
	OwnerName         string `json:"ownerName"`
	OwnerEmail        string `json:"ownerEmail,omitempty"`
}

// InsuranceValidityResponse answers "is this car insured on this date".
type InsuranceValidityResponse struct {
	CarID int64  `json:"carId"`
	Date  string `json:"date"`
	Valid bool   `json:"valid"`
}

// =============================================================================
// CLAIM DTOs
// =============================================================================

// CreateClaimRequest is the request body for filing a claim. Amount accepts
// both 350.5 and "350.5".
type CreateClaimRequest struct {
	ClaimDate   insurance.Date  `json:"claimDate"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ClaimDTO is a stored claim.
type ClaimDTO struct {
	ID          int64           `json:"id"`
	CarID       int64           `json:"carId"`
	ClaimDate   insurance.Date  `json:"claimDate"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// =============================================================================
// HISTORY DTOs
// =============================================================================

// HistoryEntryDTO is one row of a car's history. Policies have an endDate
// and no amount; claims the opposite.
type HistoryEntryDTO struct {
	Type      string           `json:"type"`
	StartDate insurance.Date   `json:"startDate"`
	EndDate   insurance.Date   `json:"endDate"`
	Details   string           `json:"details"`
	Amount    *decimal.Decimal `json:"amount"`
}

// =============================================================================
// MONITOR DTOs
// =============================================================================

// PassDTO summarizes one expiration monitor pass.
type PassDTO struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	Candidates int       `json:"candidates"`
	Notified   int       `json:"notified"`
	Suppressed int       `json:"suppressed"`
	Error      string    `json:"error,omitempty"`
}

// MonitorStatusDTO is the expiration monitor state.
type MonitorStatusDTO struct {
	Running         bool       `json:"running"`
	Interval        string     `json:"interval"`
	Window          string     `json:"window"`
	LastStartup     *PassDTO   `json:"lastStartup"`
	LastWindow      *PassDTO   `json:"lastWindow"`
	NextRun         *time.Time `json:"nextRun,omitempty"`
	TotalNotified   int        `json:"totalNotified"`
	TotalSuppressed int        `json:"totalSuppressed"`
}

// =============================================================================
// COMMON DTOs
// =============================================================================

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCarDTO(c insurance.Car) CarDTO {
	return CarDTO{
		ID:                int64(c.ID),
		VIN:               c.VIN,
		Make:              c.Make,
		Model:             c.Model,
		YearOfManufacture: c.YearOfManufacture,
		OwnerID:           int64(c.OwnerID),
		OwnerName:         c.Owner.Name,
		OwnerEmail:        c.Owner.Email,
	}
}

func toClaimDTO(c insurance.Claim) ClaimDTO {
	return ClaimDTO{
		ID:          int64(c.ID),
		CarID:       int64(c.CarID),
		ClaimDate:   c.ClaimDate,
		Description: c.Description,
		Amount:      c.Amount,
	}
}

func toHistoryEntryDTO(e insurance.HistoryEntry) HistoryEntryDTO {
	return HistoryEntryDTO{
		Type:      string(e.Type),
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		Details:   e.Details,
		Amount:    e.Amount,
	}
}

func toPassDTO(p *monitor.PassResult) *PassDTO {
	if p == nil {
		return nil
	}
	dto := &PassDTO{
		ID:         p.ID,
		Kind:       string(p.Kind),
		StartedAt:  p.StartedAt,
		Candidates: p.Candidates,
		Notified:   p.Notified,
		Suppressed: p.Suppressed,
	}
	if p.Err != nil {
		dto.Error = p.Err.Error()
	}
	return dto
}

func toMonitorStatusDTO(s monitor.Status) MonitorStatusDTO {
	dto := MonitorStatusDTO{
		Running:         s.Running,
		Interval:        monitor.Interval.String(),
		Window:          monitor.Window.String(),
		LastStartup:     toPassDTO(s.LastStartup),
		LastWindow:      toPassDTO(s.LastWindow),
		TotalNotified:   s.TotalNotified,
		TotalSuppressed: s.TotalSuppressed,
	}
	if !s.NextRun.IsZero() {
		next := s.NextRun
		dto.NextRun = &next
	}
	return dto
}
