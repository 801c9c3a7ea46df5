// README: Fare rate store backed by PostgreSQL.
package fare

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolride/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, vehicleType string) (Rate, error) {
	var r Rate
	err := s.db.QueryRow(ctx, `
		SELECT vehicle_type, flag_fare, flag_distance_km, per_km, currency
		FROM fare_rates
		WHERE vehicle_type = $1`, vehicleType,
	).Scan(&r.VehicleType, &r.FlagFare, &r.FlagDistanceKm, &r.PerKm, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, types.ErrNotFound
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}
