// README: Money helpers shared by fare quoting and pool pricing.
package types

import "math"

// Currency is the settlement currency for every fare the service quotes.
const Currency = "INR"

// RoundMoney rounds to two decimal places (paise), half away from zero.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
