/*
seed.go - Demo data for development databases

Seed inserts two owners, two cars, three policies and three claims. It is a
no-op when any owner already exists, so it is safe to call on every start.
*/
package insurance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Seed populates an empty store with demo data. It reports whether anything
// was inserted.
func Seed(ctx context.Context, store Store) (bool, error) {
	count, err := store.CountOwners(ctx)
	if err != nil {
		return false, fmt.Errorf("count owners: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	ana := &Owner{Name: "Ana Pop", Email: "ana.pop@example.com"}
	bogdan := &Owner{Name: "Bogdan Ionescu", Email: "bogdan.ionescu@example.com"}
	for _, o := range []*Owner{ana, bogdan} {
		if err := store.CreateOwner(ctx, o); err != nil {
			return false, fmt.Errorf("seed owner %s: %w", o.Name, err)
		}
	}

	logan := &Car{VIN: "VIN12345", Make: "Dacia", Model: "Logan", YearOfManufacture: 2018, OwnerID: ana.ID}
	golf := &Car{VIN: "VIN67890", Make: "VW", Model: "Golf", YearOfManufacture: 2021, OwnerID: bogdan.ID}
	for _, c := range []*Car{logan, golf} {
		if err := store.CreateCar(ctx, c); err != nil {
			return false, fmt.Errorf("seed car %s: %w", c.VIN, err)
		}
	}

	policies := []*Policy{
		{CarID: logan.ID, Provider: "Allianz", StartDate: MustParseDate("2024-01-01"), EndDate: MustParseDate("2024-12-31")},
		{CarID: logan.ID, Provider: "Groupama", StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2025-12-31")},
		{CarID: golf.ID, Provider: "Allianz", StartDate: MustParseDate("2025-03-01"), EndDate: MustParseDate("2025-09-30")},
	}
	for _, p := range policies {
		if err := store.CreatePolicy(ctx, p); err != nil {
			return false, fmt.Errorf("seed policy %s for car %d: %w", p.Provider, p.CarID, err)
		}
	}

	claims := []*Claim{
		{CarID: logan.ID, ClaimDate: MustParseDate("2024-05-12"), Description: "bara spate", Amount: decimal.NewFromInt(1200)},
		{CarID: logan.ID, ClaimDate: MustParseDate("2025-03-20"), Description: "geam spart", Amount: decimal.NewFromInt(500)},
		{CarID: golf.ID, ClaimDate: MustParseDate("2025-04-10"), Description: "zgarietura portiera", Amount: decimal.NewFromInt(200)},
	}
	for _, c := range claims {
		if err := store.CreateClaim(ctx, c); err != nil {
			return false, fmt.Errorf("seed claim for car %d: %w", c.CarID, err)
		}
	}

	return true, nil
}
