package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/car-insurance/insurance"
)

func seedPolicy(t *testing.T, m *Memory, end string) insurance.Policy {
	ctx := context.Background()
	owner := insurance.Owner{Name: "Ana Pop"}
	require.NoError(t, m.CreateOwner(ctx, &owner))
	car := insurance.Car{VIN: "VIN-" + end, OwnerID: owner.ID}
	require.NoError(t, m.CreateCar(ctx, &car))

	p := insurance.Policy{
		CarID:     car.ID,
		Provider:  "Allianz",
		StartDate: insurance.MustParseDate("2024-01-01"),
		EndDate:   insurance.MustParseDate(end),
	}
	require.NoError(t, m.CreatePolicy(ctx, &p))
	return p
}

func TestMemory_CreatePolicy_UnknownCar(t *testing.T) {
	m := New()
	p := insurance.Policy{
		CarID:     42,
		Provider:  "Allianz",
		StartDate: insurance.MustParseDate("2024-01-01"),
		EndDate:   insurance.MustParseDate("2024-12-31"),
	}
	assert.ErrorIs(t, m.CreatePolicy(context.Background(), &p), insurance.ErrCarNotFound)
}

func TestMemory_DuplicateVIN(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.CreateCar(ctx, &insurance.Car{VIN: "X"}))
	assert.ErrorIs(t, m.CreateCar(ctx, &insurance.Car{VIN: "X"}), insurance.ErrDuplicateVIN)
}

func TestMemory_ExpirationTx_CommitsMarks(t *testing.T) {
	m := New()
	ctx := context.Background()
	p := seedPolicy(t, m, "2024-12-31")
	at := time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC)

	err := m.WithinExpirationTx(ctx, func(tx insurance.ExpirationTx) error {
		pending, err := tx.PendingExpirations(ctx, insurance.PendingExpirationQuery{EndTo: insurance.MustParseDate("2025-01-01")})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		return tx.MarkExpirationNotified(ctx, []insurance.PolicyID{p.ID}, at)
	})
	require.NoError(t, err)

	got, err := m.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpirationNotifiedAt)
	assert.True(t, got.ExpirationNotifiedAt.Equal(at))
}

func TestMemory_ExpirationTx_RollsBackOnError(t *testing.T) {
	m := New()
	ctx := context.Background()
	p := seedPolicy(t, m, "2024-12-31")
	boom := errors.New("boom")

	err := m.WithinExpirationTx(ctx, func(tx insurance.ExpirationTx) error {
		require.NoError(t, tx.MarkExpirationNotified(ctx, []insurance.PolicyID{p.ID}, time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpirationNotifiedAt)
}

func TestMemory_GetPolicy_ReturnsCopy(t *testing.T) {
	m := New()
	ctx := context.Background()
	p := seedPolicy(t, m, "2024-12-31")
	require.NoError(t, m.WithinExpirationTx(ctx, func(tx insurance.ExpirationTx) error {
		return tx.MarkExpirationNotified(ctx, []insurance.PolicyID{p.ID}, time.Now())
	}))

	got, err := m.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	*got.ExpirationNotifiedAt = time.Time{}

	again, err := m.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, again.ExpirationNotifiedAt.IsZero())
}
