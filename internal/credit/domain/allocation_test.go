package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		in   time.Time
		n    int
		want string
	}{
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 1, "2024-02-15"},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, "2024-02-29"},
		{time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), 1, "2023-02-28"},
		{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 1, "2025-01-31"},
		{time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 1, "2024-04-30"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AddMonths(tc.in, tc.n).Format(DateLayout))
	}
}

func TestNewYearlyAllocation(t *testing.T) {
	a := NewYearlyAllocation(100, 12, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), 42)
	require.NoError(t, a.Validate())
	assert.Equal(t, AllocationYearly, a.Kind)
	assert.Equal(t, 11, a.Yearly.RemainingMonths)
	assert.Equal(t, "2024-02-15", a.Yearly.NextCreditDate)
	assert.Equal(t, "2024-01", a.Yearly.LastAllocatedMonth)
}

func TestYearlyAllocationDueAndAdvance(t *testing.T) {
	y := *NewYearlyAllocation(100, 3, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1).Yearly

	assert.False(t, y.Due(time.Date(2024, 2, 28, 23, 59, 0, 0, time.UTC)))
	assert.True(t, y.Due(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))

	next, err := y.Advance()
	require.NoError(t, err)
	assert.Equal(t, 1, next.RemainingMonths)
	assert.Equal(t, "2024-03-29", next.NextCreditDate)
	assert.Equal(t, "2024-02", next.LastAllocatedMonth)

	next.RemainingMonths = 0
	assert.False(t, next.Due(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestUnmarshalAllocation(t *testing.T) {
	a, err := UnmarshalAllocation(nil)
	require.NoError(t, err)
	assert.True(t, a.IsNone())

	a, err = UnmarshalAllocation([]byte("null"))
	require.NoError(t, err)
	assert.True(t, a.IsNone())

	a, err = UnmarshalAllocation([]byte(`{"kind":"monthly","monthly":{"monthlyCredits":300,"relatedOrderId":"12","allocatedAt":"2024-01-15T00:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, AllocationMonthly, a.Kind)
	assert.Equal(t, int64(300), a.Monthly.MonthlyCredits)

	_, err = UnmarshalAllocation([]byte(`{"kind":"yearly"}`))
	assert.ErrorIs(t, err, ErrInvalidAllocation)

	_, err = UnmarshalAllocation([]byte(`{"kind":"weekly"}`))
	assert.ErrorIs(t, err, ErrInvalidAllocation)
}

func TestMarshalAllocationNoneIsNull(t *testing.T) {
	raw, err := MarshalAllocation(NoAllocation())
	require.NoError(t, err)
	assert.Nil(t, raw)

	_, err = MarshalAllocation(Allocation{Kind: AllocationYearly})
	assert.ErrorIs(t, err, ErrInvalidAllocation)
}
