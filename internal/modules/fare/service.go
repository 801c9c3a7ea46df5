// README: Fare service quotes solo fares from stored rates with a configured fallback.
package fare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"poolride/internal/config"
	"poolride/internal/logging"
	"poolride/internal/types"
)

type RateStore interface {
	GetRate(ctx context.Context, vehicleType string) (Rate, error)
}

type Service struct {
	store    RateStore
	fallback Rate
	log      *slog.Logger
}

func NewService(store RateStore, cfg config.FareConfig, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		store: store,
		fallback: Rate{
			VehicleType:    cfg.VehicleType,
			FlagFare:       cfg.FlagFare,
			FlagDistanceKm: cfg.FlagDistanceKm,
			PerKm:          cfg.PerKm,
			Currency:       types.Currency,
		},
		log: log,
	}
}

// SoloFare quotes what a single student would pay to ride distanceKm alone.
// A missing or unreachable rate table falls back to the configured rate.
func (s *Service) SoloFare(ctx context.Context, distanceKm float64) (Quote, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return Quote{}, fmt.Errorf("%w: distance must be non-negative, got %v", types.ErrInvalidInput, distanceKm)
	}
	rate := s.fallback
	if s.store != nil {
		r, err := s.store.GetRate(ctx, s.fallback.VehicleType)
		switch {
		case err == nil:
			rate = r
		case errors.Is(err, types.ErrNotFound):
		default:
			s.log.Warn("fare rate lookup failed; using fallback", "vehicle_type", s.fallback.VehicleType, "error", err)
		}
	}
	return Quote{
		VehicleType: rate.VehicleType,
		DistanceKm:  distanceKm,
		Amount:      rate.SoloAmount(distanceKm),
		Currency:    rate.Currency,
	}, nil
}
