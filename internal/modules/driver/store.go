// README: Driver profile store backed by PostgreSQL.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

const profileColumns = `
	id, version, name, phone, email, photo_url,
	vehicle_type, vehicle_model, vehicle_registration, seating_capacity,
	license_number, license_expiry,
	verification_status, profile_update_pending, pending_updates, rejection_reason,
	ever_approved, availability, created_at, updated_at, reviewed_at, reviewed_by`

func (s *Store) Create(ctx context.Context, p *Profile) error {
	pending, err := encodePending(p.PendingUpdates)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO driver_profiles (`+profileColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22
		)`,
		string(p.ID), p.Version, p.Name, p.Phone, p.Email, p.PhotoURL,
		p.Vehicle.VehicleType, p.Vehicle.VehicleModel, p.Vehicle.VehicleRegistrationNumber, p.Vehicle.SeatingCapacity,
		p.Vehicle.LicenseNumber, p.Vehicle.LicenseExpiry,
		string(p.VerificationStatus), p.ProfileUpdatePending, pending, p.RejectionReason,
		p.EverApproved, string(p.Availability), p.CreatedAt, p.UpdatedAt, p.ReviewedAt, idPtr(p.ReviewedBy),
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Profile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM driver_profiles WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", types.ErrNotFound, id)
	}
	return p, err
}

func (s *Store) Update(ctx context.Context, p *Profile, expectedVersion int) error {
	pending, err := encodePending(p.PendingUpdates)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE driver_profiles
		SET version = version + 1,
			name = $1, phone = $2, email = $3, photo_url = $4,
			vehicle_type = $5, vehicle_model = $6, vehicle_registration = $7, seating_capacity = $8,
			license_number = $9, license_expiry = $10,
			verification_status = $11,
			profile_update_pending = $12,
			pending_updates = $13,
			rejection_reason = $14,
			ever_approved = $15,
			availability = $16,
			updated_at = $17,
			reviewed_at = $18,
			reviewed_by = $19
		WHERE id = $20 AND version = $21`,
		p.Name, p.Phone, p.Email, p.PhotoURL,
		p.Vehicle.VehicleType, p.Vehicle.VehicleModel, p.Vehicle.VehicleRegistrationNumber, p.Vehicle.SeatingCapacity,
		p.Vehicle.LicenseNumber, p.Vehicle.LicenseExpiry,
		string(p.VerificationStatus),
		p.ProfileUpdatePending,
		pending,
		p.RejectionReason,
		p.EverApproved,
		string(p.Availability),
		p.UpdatedAt,
		p.ReviewedAt,
		idPtr(p.ReviewedBy),
		string(p.ID),
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: driver %s at version %d", types.ErrConflict, p.ID, expectedVersion)
	}
	p.Version = expectedVersion + 1
	return nil
}

// ListPending returns profiles awaiting review, oldest update first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Profile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM driver_profiles
		WHERE verification_status = 'PENDING'
		ORDER BY updated_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var pending []byte
	var reviewedBy *string
	err := row.Scan(
		&p.ID, &p.Version, &p.Name, &p.Phone, &p.Email, &p.PhotoURL,
		&p.Vehicle.VehicleType, &p.Vehicle.VehicleModel, &p.Vehicle.VehicleRegistrationNumber, &p.Vehicle.SeatingCapacity,
		&p.Vehicle.LicenseNumber, &p.Vehicle.LicenseExpiry,
		&p.VerificationStatus, &p.ProfileUpdatePending, &pending, &p.RejectionReason,
		&p.EverApproved, &p.Availability, &p.CreatedAt, &p.UpdatedAt, &p.ReviewedAt, &reviewedBy,
	)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 && string(pending) != "null" {
		var u SensitiveUpdate
		if err := json.Unmarshal(pending, &u); err != nil {
			return nil, fmt.Errorf("decode pending updates of driver %s: %w", p.ID, err)
		}
		p.PendingUpdates = &u
	}
	if reviewedBy != nil {
		id := types.ID(*reviewedBy)
		p.ReviewedBy = &id
	}
	return &p, nil
}

func encodePending(u *SensitiveUpdate) ([]byte, error) {
	if u == nil {
		return nil, nil
	}
	return json.Marshal(u)
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
