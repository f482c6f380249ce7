// Package memory provides an in-memory insurance.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/car-insurance/insurance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	owners   map[insurance.OwnerID]insurance.Owner
	cars     map[insurance.CarID]insurance.Car
	policies map[insurance.PolicyID]insurance.Policy
	claims   map[insurance.ClaimID]insurance.Claim
	nextID   int64

	// FailMark, when set, is returned by MarkExpirationNotified. Tests use it
	// to exercise rollback.
	FailMark error
}

var _ insurance.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		owners:   make(map[insurance.OwnerID]insurance.Owner),
		cars:     make(map[insurance.CarID]insurance.Car),
		policies: make(map[insurance.PolicyID]insurance.Policy),
		claims:   make(map[insurance.ClaimID]insurance.Claim),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// CARS AND OWNERS
// =============================================================================

func (m *Memory) CreateOwner(_ context.Context, owner *insurance.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner.ID = insurance.OwnerID(m.id())
	m.owners[owner.ID] = *owner
	return nil
}

func (m *Memory) CountOwners(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners), nil
}

func (m *Memory) CreateCar(_ context.Context, car *insurance.Car) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.cars {
		if existing.VIN == car.VIN {
			return insurance.ErrDuplicateVIN
		}
	}
	car.ID = insurance.CarID(m.id())
	m.cars[car.ID] = *car
	return nil
}

func (m *Memory) ListCars(_ context.Context) ([]insurance.Car, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cars := make([]insurance.Car, 0, len(m.cars))
	for _, c := range m.cars {
		c.Owner = m.owners[c.OwnerID]
		cars = append(cars, c)
	}
	sort.Slice(cars, func(i, j int) bool { return cars[i].ID < cars[j].ID })
	return cars, nil
}

func (m *Memory) CarExists(_ context.Context, id insurance.CarID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cars[id]
	return ok, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) CreatePolicy(_ context.Context, policy *insurance.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cars[policy.CarID]; !ok {
		return insurance.ErrCarNotFound
	}
	policy.ID = insurance.PolicyID(m.id())
	m.policies[policy.ID] = clonePolicy(*policy)
	return nil
}

func (m *Memory) GetPolicy(_ context.Context, id insurance.PolicyID) (*insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return nil, insurance.ErrPolicyNotFound
	}
	p = clonePolicy(p)
	return &p, nil
}

func (m *Memory) ListPoliciesByCar(_ context.Context, carID insurance.CarID) ([]insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []insurance.Policy
	for _, p := range m.policies {
		if p.CarID == carID {
			result = append(result, clonePolicy(p))
		}
	}
	sortPolicies(result)
	return result, nil
}

func (m *Memory) HasPolicyCovering(_ context.Context, carID insurance.CarID, date insurance.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.policies {
		if p.CarID == carID && p.Covers(date) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// CLAIMS
// =============================================================================

func (m *Memory) CreateClaim(_ context.Context, claim *insurance.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cars[claim.CarID]; !ok {
		return insurance.ErrCarNotFound
	}
	claim.ID = insurance.ClaimID(m.id())
	m.claims[claim.ID] = *claim
	return nil
}

func (m *Memory) ListClaimsByCar(_ context.Context, carID insurance.CarID) ([]insurance.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []insurance.Claim
	for _, c := range m.claims {
		if c.CarID == carID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ClaimDate.Equal(result[j].ClaimDate) {
			return result[i].ClaimDate.Before(result[j].ClaimDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// TRANSACTIONAL EXPIRATION ACCESS
// =============================================================================

// WithinExpirationTx runs fn under the write lock. Marker writes are
// buffered in the view and applied only when fn succeeds.
func (m *Memory) WithinExpirationTx(ctx context.Context, fn func(insurance.ExpirationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := &txMemoryView{parent: m, marks: make(map[insurance.PolicyID]time.Time)}
	if err := fn(view); err != nil {
		return err
	}

	for id, at := range view.marks {
		p := m.policies[id]
		at := at
		p.ExpirationNotifiedAt = &at
		m.policies[id] = p
	}
	return nil
}

type txMemoryView struct {
	parent *Memory
	marks  map[insurance.PolicyID]time.Time
}

func (tv *txMemoryView) PendingExpirations(_ context.Context, q insurance.PendingExpirationQuery) ([]insurance.Policy, error) {
	var result []insurance.Policy
	for _, p := range tv.parent.policies {
		if q.Matches(p) {
			result = append(result, clonePolicy(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tv *txMemoryView) MarkExpirationNotified(_ context.Context, ids []insurance.PolicyID, at time.Time) error {
	if tv.parent.FailMark != nil {
		return tv.parent.FailMark
	}
	for _, id := range ids {
		p, ok := tv.parent.policies[id]
		if !ok || p.Notified() {
			continue
		}
		tv.marks[id] = at
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func clonePolicy(p insurance.Policy) insurance.Policy {
	if p.ExpirationNotifiedAt != nil {
		at := *p.ExpirationNotifiedAt
		p.ExpirationNotifiedAt = &at
	}
	return p
}

func sortPolicies(ps []insurance.Policy) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].StartDate.Equal(ps[j].StartDate) {
			return ps[i].StartDate.Before(ps[j].StartDate)
		}
		return ps[i].ID < ps[j].ID
	})
}
