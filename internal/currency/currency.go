// Package currency implements dual-currency (USD/KHR) arithmetic and payment
// settlement. All functions are pure; the exchange rate is always passed in.
//
// Conventions: USD amounts carry two decimal places, KHR amounts are whole
// riel (there are no sub-riel coins in circulation). A payment is considered
// sufficient when it is within one US cent of the total, which absorbs the
// rounding that cross-currency conversion introduces.
package currency

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"angkorpos/backend/internal/domain"
)

// DefaultExchangeRate is the fallback USD-to-KHR rate used when no rate has
// been configured for the day.
const DefaultExchangeRate = 4100.0

// sufficiencyEpsilon is the USD tolerance when deciding whether a payment
// covers the total.
const sufficiencyEpsilon = 0.01

// usdChangeThreshold is the minimum USD overpayment at which change is given
// partly in USD notes; below it all change is returned in riel.
const usdChangeThreshold = 20.0

// Round2 rounds a USD amount to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundKHR rounds a KHR amount to the nearest whole riel.
func RoundKHR(v float64) float64 {
	return math.Round(v)
}

// KhrToUsd converts a riel amount to USD at the given rate.
func KhrToUsd(khr, rate float64) float64 {
	return Round2(khr / rate)
}

// UsdToKhr converts a USD amount to whole riel at the given rate.
func UsdToKhr(usd, rate float64) float64 {
	return RoundKHR(usd * rate)
}

// Settle computes the settlement of a mixed USD/KHR payment against a USD
// total. Underpayment yields Remaining* amounts in both currencies;
// overpayment yields change with USD notes only for amounts of $20 and up,
// and the sub-dollar remainder always in riel.
func Settle(totalUsd, paidUsd, paidKhr, rate float64) domain.PaymentResult {
	paidKhrInUsd := KhrToUsd(paidKhr, rate)
	totalPaid := Round2(paidUsd + paidKhrInUsd)
	diff := Round2(totalPaid - totalUsd)

	res := domain.PaymentResult{
		TotalUSD:     Round2(totalUsd),
		PaidUSD:      Round2(paidUsd),
		PaidKHR:      RoundKHR(paidKhr),
		PaidKHRInUSD: paidKhrInUsd,
		TotalPaidUSD: totalPaid,
		ExchangeRate: rate,
		IsExact:      math.Abs(diff) < sufficiencyEpsilon,
		IsPaid:       diff >= -sufficiencyEpsilon,
	}

	switch {
	case !res.IsPaid:
		res.RemainingUSD = Round2(math.Abs(diff))
		res.RemainingKHR = UsdToKhr(res.RemainingUSD, rate)
	case res.IsExact:
		// nothing owed either way
	case diff < usdChangeThreshold:
		res.ChangeKHR = UsdToKhr(diff, rate)
	default:
		res.ChangeUSD = math.Floor(diff)
		res.ChangeKHR = UsdToKhr(Round2(diff-res.ChangeUSD), rate)
	}

	res.ChangeMessage = ChangeMessage(res)
	return res
}

// ChangeMessage renders a cashier-facing line describing the change due.
// Riel change is announced first because it is the bulkier denomination.
func ChangeMessage(r domain.PaymentResult) string {
	if !r.IsPaid {
		return fmt.Sprintf("Insufficient: need $%.2f more (or ៛%s)", r.RemainingUSD, groupKHR(r.RemainingKHR))
	}
	var parts []string
	if r.ChangeKHR > 0 {
		parts = append(parts, fmt.Sprintf("៛%s", groupKHR(r.ChangeKHR)))
	}
	if r.ChangeUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.2f", r.ChangeUSD))
	}
	if len(parts) == 0 {
		return "Exact amount"
	}
	return "Change: " + strings.Join(parts, " + ")
}

// groupKHR formats a whole riel amount with thousands separators.
func groupKHR(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	out := b.String()
	if neg {
		out = "-" + out
	}
	return out
}
