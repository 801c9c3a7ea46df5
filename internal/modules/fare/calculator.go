package fare

import (
	"fmt"
	"math"

	"poolride/internal/config"
	"poolride/internal/types"
)

// ComputePoolFare splits baseFare across occupancy seats. A solo pool pays the
// full base fare and earns the driver no pooling bonus; from two seats up the
// pool discount applies and the per-seat fare falls with every extra rider.
func ComputePoolFare(baseFare float64, occupancy int, cfg config.PoolConfig) (PoolFareResult, error) {
	if baseFare <= 0 || math.IsNaN(baseFare) || math.IsInf(baseFare, 0) {
		return PoolFareResult{}, fmt.Errorf("%w: base fare must be positive, got %v", types.ErrInvalidInput, baseFare)
	}
	if occupancy < 1 || occupancy > cfg.MaxSeats {
		return PoolFareResult{}, fmt.Errorf("%w: occupancy must be in 1..%d, got %d", types.ErrInvalidInput, cfg.MaxSeats, occupancy)
	}

	res := PoolFareResult{BaseFare: baseFare, Occupancy: occupancy}
	if occupancy == 1 {
		res.FarePerSeat = types.RoundMoney(baseFare)
		res.DriverEarning = types.RoundMoney(baseFare)
	} else {
		res.FarePerSeat = types.RoundMoney(baseFare * (1 - cfg.PoolDiscount) / float64(occupancy))
		res.DriverEarning = types.RoundMoney(baseFare * (1 + cfg.DriverPoolBonus))
		res.DiscountPercent = cfg.PoolDiscount * 100
	}
	res.TotalPoolFare = types.RoundMoney(res.FarePerSeat * float64(occupancy))
	res.SavingsPerPerson = types.RoundMoney(baseFare - res.FarePerSeat)
	return res, nil
}

// SoloAmount meters distanceKm against r.
func (r Rate) SoloAmount(distanceKm float64) float64 {
	extra := math.Max(0, distanceKm-r.FlagDistanceKm)
	return types.RoundMoney(r.FlagFare + extra*r.PerKm)
}
