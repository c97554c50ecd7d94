package currency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettleExactUSD(t *testing.T) {
	res := Settle(25, 25, 0, 4100)

	require.True(t, res.IsPaid)
	require.True(t, res.IsExact)
	require.Zero(t, res.ChangeUSD)
	require.Zero(t, res.ChangeKHR)
	require.Equal(t, "Exact amount", res.ChangeMessage)
}

func TestSettleExactKHROnly(t *testing.T) {
	// 102,500 riel at 4100 is exactly $25.
	res := Settle(25, 0, 102500, 4100)

	require.True(t, res.IsExact)
	require.Equal(t, 25.0, res.PaidKHRInUSD)
	require.Equal(t, 25.0, res.TotalPaidUSD)
}

func TestSettleSmallOverpaymentChangesInRiel(t *testing.T) {
	res := Settle(25, 30, 0, 4100)

	require.True(t, res.IsPaid)
	require.False(t, res.IsExact)
	require.Zero(t, res.ChangeUSD)
	require.Equal(t, 20500.0, res.ChangeKHR)
	require.Equal(t, "Change: ៛20,500", res.ChangeMessage)
}

func TestSettleLargeOverpaymentSplitsChange(t *testing.T) {
	res := Settle(25, 50, 0, 4100)

	require.True(t, res.IsPaid)
	require.Equal(t, 25.0, res.ChangeUSD)
	require.Zero(t, res.ChangeKHR)
	require.Equal(t, "Change: $25.00", res.ChangeMessage)
}

func TestSettleLargeOverpaymentWithFraction(t *testing.T) {
	// $25.50 over: $25 in notes, the 50 cents in riel.
	res := Settle(24.50, 50, 0, 4100)

	require.Equal(t, 25.0, res.ChangeUSD)
	require.Equal(t, 2050.0, res.ChangeKHR)
	require.Equal(t, "Change: ៛2,050 + $25.00", res.ChangeMessage)
}

func TestSettleUnderpayment(t *testing.T) {
	res := Settle(25, 20, 0, 4100)

	require.False(t, res.IsPaid)
	require.Equal(t, 5.0, res.RemainingUSD)
	require.Equal(t, 20500.0, res.RemainingKHR)
}

func TestSettleMixedTenderCoversTotal(t *testing.T) {
	// $20 cash plus 20,500 riel covers a $25 total exactly.
	res := Settle(25, 20, 20500, 4100)

	require.True(t, res.IsExact)
	require.Equal(t, 5.0, res.PaidKHRInUSD)
}

func TestSettleWithinEpsilonCountsAsPaid(t *testing.T) {
	// 40,900 riel at 4090.5 is $9.998..., short of $10 by under a cent.
	res := Settle(10, 0, 40900, 4090.5)

	require.True(t, res.IsPaid)
	require.True(t, res.IsExact)
}

func TestConversionRounding(t *testing.T) {
	require.Equal(t, 2.44, KhrToUsd(10000, 4100))
	require.Equal(t, 4100.0, UsdToKhr(1, 4100))
	require.Equal(t, 6150.0, UsdToKhr(1.5, 4100))
}

func TestGroupKHR(t *testing.T) {
	require.Equal(t, "0", groupKHR(0))
	require.Equal(t, "500", groupKHR(500))
	require.Equal(t, "20,500", groupKHR(20500))
	require.Equal(t, "1,234,000", groupKHR(1234000))
}
