package insurance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ClaimInput is the data needed to file a claim.
type ClaimInput struct {
	ClaimDate   Date
	Description string
	Amount      decimal.Decimal
}

// Service answers the read/write questions of the HTTP API.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ListCars returns every car with its owner.
func (s *Service) ListCars(ctx context.Context) ([]Car, error) {
	cars, err := s.store.ListCars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	return cars, nil
}

// IsInsuranceValid reports whether the car has a policy covering date.
func (s *Service) IsInsuranceValid(ctx context.Context, carID CarID, date Date) (bool, error) {
	if err := s.requireCar(ctx, carID); err != nil {
		return false, err
	}
	valid, err := s.store.HasPolicyCovering(ctx, carID, date)
	if err != nil {
		return false, fmt.Errorf("check coverage for car %d: %w", carID, err)
	}
	return valid, nil
}

// AddClaim validates and stores a claim against the car.
func (s *Service) AddClaim(ctx context.Context, carID CarID, in ClaimInput) (*Claim, error) {
	if err := s.requireCar(ctx, carID); err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if in.ClaimDate.IsZero() {
		return nil, fmt.Errorf("%w: claim date is required", ErrInvalidClaim)
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidClaim)
	}

	claim := &Claim{
		CarID:       carID,
		ClaimDate:   in.ClaimDate,
		Description: description,
		Amount:      in.Amount,
	}
	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return nil, fmt.Errorf("create claim for car %d: %w", carID, err)
	}
	return claim, nil
}

// History returns the car's policies and claims ordered by start date.
// Entries sharing a start date keep policies ahead of claims.
func (s *Service) History(ctx context.Context, carID CarID) ([]HistoryEntry, error) {
	if err := s.requireCar(ctx, carID); err != nil {
		return nil, err
	}

	policies, err := s.store.ListPoliciesByCar(ctx, carID)
	if err != nil {
		return nil, fmt.Errorf("list policies for car %d: %w", carID, err)
	}
	claims, err := s.store.ListClaimsByCar(ctx, carID)
	if err != nil {
		return nil, fmt.Errorf("list claims for car %d: %w", carID, err)
	}

	entries := make([]HistoryEntry, 0, len(policies)+len(claims))
	for _, p := range policies {
		entries = append(entries, HistoryEntry{
			Type:      HistoryPolicy,
			StartDate: p.StartDate,
			EndDate:   p.EndDate,
			Details:   p.Provider,
		})
	}
	for _, c := range claims {
		amount := c.Amount
		entries = append(entries, HistoryEntry{
			Type:      HistoryClaim,
			StartDate: c.ClaimDate,
			Details:   c.Description,
			Amount:    &amount,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartDate.Before(entries[j].StartDate)
	})
	return entries, nil
}

func (s *Service) requireCar(ctx context.Context, carID CarID) error {
	exists, err := s.store.CarExists(ctx, carID)
	if err != nil {
		return fmt.Errorf("look up car %d: %w", carID, err)
	}
	if !exists {
		return fmt.Errorf("car %d: %w", carID, ErrCarNotFound)
	}
	return nil
}
