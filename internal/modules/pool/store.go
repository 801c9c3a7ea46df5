// README: Pool store backed by PostgreSQL with version compare-and-swap updates.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolride/internal/geo"
	"poolride/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const poolColumns = `
	id, version, status, route_label,
	pickup_lat, pickup_lng, drop_lat, drop_lng,
	departure_time, is_immediate,
	max_seats, available_seats, occupied_seats,
	base_fare, fare_per_seat, pool_discount, match_radius_km,
	participants, driver, expires_at, created_at, updated_at, cancel_reason`

func (s *PGStore) Create(ctx context.Context, p *PoolRide) error {
	participants, driver, err := encodeJSON(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pools (`+poolColumns+`
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23
		)`,
		string(p.ID), p.Version, string(p.Status), p.Route.Label,
		p.Route.Pickup.Lat, p.Route.Pickup.Lng, p.Route.Drop.Lat, p.Route.Drop.Lng,
		p.DepartureTime, p.IsImmediate,
		p.MaxSeats, p.AvailableSeats, p.OccupiedSeats,
		p.BaseFare, p.FarePerSeat, p.PoolDiscount, p.MatchRadiusKm,
		participants, driver, p.ExpiresAt, p.CreatedAt, p.UpdatedAt, p.CancelReason,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*PoolRide, error) {
	row := s.db.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, string(id))
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pool %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update writes every mutable column only if the stored version still equals
// expectedVersion, then bumps it.
func (s *PGStore) Update(ctx context.Context, p *PoolRide, expectedVersion int) error {
	participants, driver, err := encodeJSON(p)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE pools
		SET version = version + 1,
			status = $1,
			route_label = $2,
			pickup_lat = $3, pickup_lng = $4, drop_lat = $5, drop_lng = $6,
			available_seats = $7,
			occupied_seats = $8,
			base_fare = $9,
			fare_per_seat = $10,
			participants = $11,
			driver = $12,
			expires_at = $13,
			updated_at = $14,
			cancel_reason = $15
		WHERE id = $16 AND version = $17`,
		string(p.Status),
		p.Route.Label,
		p.Route.Pickup.Lat, p.Route.Pickup.Lng, p.Route.Drop.Lat, p.Route.Drop.Lng,
		p.AvailableSeats,
		p.OccupiedSeats,
		p.BaseFare,
		p.FarePerSeat,
		participants,
		driver,
		p.ExpiresAt,
		p.UpdatedAt,
		p.CancelReason,
		string(p.ID),
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: pool %s at version %d", types.ErrConflict, p.ID, expectedVersion)
	}
	p.Version = expectedVersion + 1
	return nil
}

// ListOpenNear returns every WAITING pool whose pickup centroid lies in the
// bounding box of radiusKm around at. The matcher applies the exact radius.
func (s *PGStore) ListOpenNear(ctx context.Context, at types.Point, radiusKm float64, now time.Time) ([]PoolRide, error) {
	box := geo.BoundingBox(at, radiusKm)
	rows, err := s.db.Query(ctx, `
		SELECT `+poolColumns+`
		FROM pools
		WHERE status = 'WAITING' AND expires_at > $1
		  AND pickup_lat BETWEEN $2 AND $3
		  AND pickup_lng BETWEEN $4 AND $5
		ORDER BY created_at`, now, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, err
	}
	return collectPools(rows)
}

func (s *PGStore) ListOpenByIDs(ctx context.Context, ids []types.ID, now time.Time) ([]PoolRide, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+poolColumns+`
		FROM pools
		WHERE id = ANY($1) AND status = 'WAITING' AND expires_at > $2`, raw, now)
	if err != nil {
		return nil, err
	}
	return collectPools(rows)
}

func (s *PGStore) ListExpirable(ctx context.Context, now time.Time) ([]PoolRide, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+poolColumns+`
		FROM pools
		WHERE status IN ('WAITING', 'READY') AND expires_at <= $1
		ORDER BY expires_at
		LIMIT 500`, now)
	if err != nil {
		return nil, err
	}
	return collectPools(rows)
}

func (s *PGStore) HasActiveByStudent(ctx context.Context, studentID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pools, jsonb_array_elements(participants) AS pt
			WHERE status IN ('WAITING', 'READY', 'DRIVER_ASSIGNED', 'PICKUP_IN_PROGRESS', 'IN_PROGRESS')
			  AND pt->>'student_id' = $1
			  AND pt->>'status' IN ('JOINED', 'CONFIRMED', 'PICKED_UP')
		)`, string(studentID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*PoolRide, error) {
	var p PoolRide
	var participants, driver []byte
	err := row.Scan(
		&p.ID, &p.Version, &p.Status, &p.Route.Label,
		&p.Route.Pickup.Lat, &p.Route.Pickup.Lng, &p.Route.Drop.Lat, &p.Route.Drop.Lng,
		&p.DepartureTime, &p.IsImmediate,
		&p.MaxSeats, &p.AvailableSeats, &p.OccupiedSeats,
		&p.BaseFare, &p.FarePerSeat, &p.PoolDiscount, &p.MatchRadiusKm,
		&participants, &driver, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt, &p.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &p.Participants); err != nil {
		return nil, fmt.Errorf("decode participants of pool %s: %w", p.ID, err)
	}
	if len(driver) > 0 && string(driver) != "null" {
		var d DriverAssignment
		if err := json.Unmarshal(driver, &d); err != nil {
			return nil, fmt.Errorf("decode driver of pool %s: %w", p.ID, err)
		}
		p.Driver = &d
	}
	return &p, nil
}

func collectPools(rows pgx.Rows) ([]PoolRide, error) {
	defer rows.Close()
	var out []PoolRide
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func encodeJSON(p *PoolRide) (participants []byte, driver []byte, err error) {
	pts := p.Participants
	if pts == nil {
		pts = []Participant{}
	}
	participants, err = json.Marshal(pts)
	if err != nil {
		return nil, nil, err
	}
	if p.Driver != nil {
		driver, err = json.Marshal(p.Driver)
		if err != nil {
			return nil, nil, err
		}
	}
	return participants, driver, nil
}
