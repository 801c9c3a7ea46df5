// README: Pure driver verification state machine.
package driver

import (
	"fmt"
	"strings"
	"time"

	"poolride/internal/events"
	"poolride/internal/types"
)

var (
	ErrNotEligible    = fmt.Errorf("%w: driver is not eligible to go online", types.ErrInvalidTransition)
	ErrNotPending     = fmt.Errorf("%w: profile is not awaiting review", types.ErrInvalidTransition)
	ErrInvalidProfile = fmt.Errorf("%w: invalid driver profile", types.ErrInvalidInput)
)

// MaxSeatingCapacity bounds seatingCapacity for an auto-rickshaw.
const MaxSeatingCapacity = 6

type Registration struct {
	Name     string
	Phone    string
	Email    string
	PhotoURL string
	Vehicle  VehicleDetails
}

// NewProfile creates a profile awaiting its first review.
func NewProfile(id types.ID, r Registration, now time.Time) (Profile, []events.Event, error) {
	if id == "" {
		return Profile{}, nil, fmt.Errorf("%w: missing driver id", ErrInvalidProfile)
	}
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Phone) == "" {
		return Profile{}, nil, fmt.Errorf("%w: name and phone are required", ErrInvalidProfile)
	}
	if err := validateVehicle(r.Vehicle, now); err != nil {
		return Profile{}, nil, err
	}
	p := Profile{
		ID:                 id,
		Version:            1,
		Name:               strings.TrimSpace(r.Name),
		Phone:              strings.TrimSpace(r.Phone),
		Email:              r.Email,
		PhotoURL:           r.PhotoURL,
		Vehicle:            r.Vehicle,
		VerificationStatus: StatusPending,
		Availability:       Offline,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return p, []events.Event{requested(p, "registration", now)}, nil
}

// ApplyEdit applies contact edits live. Vehicle detail changes on an approved
// profile are parked in PendingUpdates and the driver goes back to review with
// the old values still live. On a profile that was never approved, or was
// rejected, they apply live and (re)enter review.
func ApplyEdit(cur Profile, e Edit, now time.Time) (Profile, []events.Event, error) {
	if err := validateContact(e); err != nil {
		return cur, nil, err
	}
	p := cur.clone()
	applyContact(&p, e)
	p.UpdatedAt = now

	if p.ProfileUpdatePending {
		var parked SensitiveUpdate
		if p.PendingUpdates != nil {
			parked = *p.PendingUpdates
		}
		// Fields edited back to their live value drop out of the parked set.
		next := diff(p.Vehicle, mergeUpdates(parked, e.SensitiveUpdate))
		if err := validateVehicle(merge(p.Vehicle, next), now); err != nil {
			return cur, nil, err
		}
		p.PendingUpdates = &next
		return p, nil, nil
	}

	changes := diff(p.Vehicle, e.SensitiveUpdate)
	if changes.Empty() {
		return p, nil, nil
	}
	if err := validateVehicle(merge(p.Vehicle, changes), now); err != nil {
		return cur, nil, err
	}

	switch {
	case p.VerificationStatus == StatusApproved:
		p.VerificationStatus = StatusPending
		p.ProfileUpdatePending = true
		p.PendingUpdates = &changes
		p.Availability = Offline
		return p, []events.Event{requested(p, "profile_update", now)}, nil

	default:
		wasRejected := p.VerificationStatus == StatusRejected
		p.Vehicle = merge(p.Vehicle, changes)
		p.VerificationStatus = StatusPending
		p.RejectionReason = nil
		if wasRejected {
			return p, []events.Event{requested(p, "resubmission", now)}, nil
		}
		return p, nil, nil
	}
}

// Approve accepts the pending review, merging any parked vehicle changes.
func Approve(cur Profile, adminID types.ID, now time.Time) (Profile, []events.Event, error) {
	if cur.VerificationStatus != StatusPending {
		return cur, nil, ErrNotPending
	}
	p := cur.clone()
	if p.PendingUpdates != nil {
		p.Vehicle = merge(p.Vehicle, *p.PendingUpdates)
	}
	p.PendingUpdates = nil
	p.ProfileUpdatePending = false
	p.VerificationStatus = StatusApproved
	p.EverApproved = true
	p.RejectionReason = nil
	markReviewed(&p, adminID, now)

	evt := events.New(events.VerificationApproved, events.SubjectDriver, p.ID, []types.ID{p.ID}, nil, now)
	return p, []events.Event{evt}, nil
}

// Reject declines the pending review and discards any parked vehicle changes.
func Reject(cur Profile, adminID types.ID, reason string, now time.Time) (Profile, []events.Event, error) {
	if cur.VerificationStatus != StatusPending {
		return cur, nil, ErrNotPending
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return cur, nil, fmt.Errorf("%w: rejection reason is required", types.ErrInvalidInput)
	}
	p := cur.clone()
	p.PendingUpdates = nil
	p.ProfileUpdatePending = false
	p.VerificationStatus = StatusRejected
	p.RejectionReason = &reason
	p.Availability = Offline
	markReviewed(&p, adminID, now)

	evt := events.New(events.VerificationRejected, events.SubjectDriver, p.ID, []types.ID{p.ID}, map[string]string{
		"reason": reason,
	}, now)
	return p, []events.Event{evt}, nil
}

// SetAvailability toggles online status. Going offline is always allowed.
func SetAvailability(cur Profile, online bool, now time.Time) (Profile, error) {
	if online && !cur.CanGoOnline() {
		return cur, ErrNotEligible
	}
	p := cur.clone()
	p.Availability = Offline
	if online {
		p.Availability = Online
	}
	p.UpdatedAt = now
	return p, nil
}

func requested(p Profile, reason string, now time.Time) events.Event {
	return events.New(events.VerificationRequested, events.SubjectDriver, p.ID, nil, map[string]string{
		"reason": reason,
		"name":   p.Name,
	}, now)
}

func markReviewed(p *Profile, adminID types.ID, now time.Time) {
	p.ReviewedAt = &now
	p.ReviewedBy = &adminID
	p.UpdatedAt = now
}

func applyContact(p *Profile, e Edit) {
	if e.Name != nil {
		p.Name = strings.TrimSpace(*e.Name)
	}
	if e.Phone != nil {
		p.Phone = strings.TrimSpace(*e.Phone)
	}
	if e.Email != nil {
		p.Email = *e.Email
	}
	if e.PhotoURL != nil {
		p.PhotoURL = *e.PhotoURL
	}
}

func validateContact(e Edit) error {
	if e.Name != nil && strings.TrimSpace(*e.Name) == "" {
		return fmt.Errorf("%w: name cannot be blank", ErrInvalidProfile)
	}
	if e.Phone != nil && strings.TrimSpace(*e.Phone) == "" {
		return fmt.Errorf("%w: phone cannot be blank", ErrInvalidProfile)
	}
	return nil
}

func validateVehicle(v VehicleDetails, now time.Time) error {
	switch {
	case v.VehicleType == "" || v.VehicleModel == "" || v.VehicleRegistrationNumber == "" || v.LicenseNumber == "":
		return fmt.Errorf("%w: vehicle and license details are required", ErrInvalidProfile)
	case v.SeatingCapacity < 1 || v.SeatingCapacity > MaxSeatingCapacity:
		return fmt.Errorf("%w: seating capacity must be in 1..%d", ErrInvalidProfile, MaxSeatingCapacity)
	case !v.LicenseExpiry.After(now):
		return fmt.Errorf("%w: license has expired", ErrInvalidProfile)
	}
	return nil
}

// diff keeps only the proposed values that differ from the live ones.
func diff(live VehicleDetails, u SensitiveUpdate) SensitiveUpdate {
	var out SensitiveUpdate
	if u.VehicleType != nil && *u.VehicleType != live.VehicleType {
		out.VehicleType = u.VehicleType
	}
	if u.VehicleModel != nil && *u.VehicleModel != live.VehicleModel {
		out.VehicleModel = u.VehicleModel
	}
	if u.VehicleRegistrationNumber != nil && *u.VehicleRegistrationNumber != live.VehicleRegistrationNumber {
		out.VehicleRegistrationNumber = u.VehicleRegistrationNumber
	}
	if u.SeatingCapacity != nil && *u.SeatingCapacity != live.SeatingCapacity {
		out.SeatingCapacity = u.SeatingCapacity
	}
	if u.LicenseNumber != nil && *u.LicenseNumber != live.LicenseNumber {
		out.LicenseNumber = u.LicenseNumber
	}
	if u.LicenseExpiry != nil && !u.LicenseExpiry.Equal(live.LicenseExpiry) {
		out.LicenseExpiry = u.LicenseExpiry
	}
	return out
}

func merge(v VehicleDetails, u SensitiveUpdate) VehicleDetails {
	if u.VehicleType != nil {
		v.VehicleType = *u.VehicleType
	}
	if u.VehicleModel != nil {
		v.VehicleModel = *u.VehicleModel
	}
	if u.VehicleRegistrationNumber != nil {
		v.VehicleRegistrationNumber = *u.VehicleRegistrationNumber
	}
	if u.SeatingCapacity != nil {
		v.SeatingCapacity = *u.SeatingCapacity
	}
	if u.LicenseNumber != nil {
		v.LicenseNumber = *u.LicenseNumber
	}
	if u.LicenseExpiry != nil {
		v.LicenseExpiry = *u.LicenseExpiry
	}
	return v
}

func mergeUpdates(base, next SensitiveUpdate) SensitiveUpdate {
	if next.VehicleType != nil {
		base.VehicleType = next.VehicleType
	}
	if next.VehicleModel != nil {
		base.VehicleModel = next.VehicleModel
	}
	if next.VehicleRegistrationNumber != nil {
		base.VehicleRegistrationNumber = next.VehicleRegistrationNumber
	}
	if next.SeatingCapacity != nil {
		base.SeatingCapacity = next.SeatingCapacity
	}
	if next.LicenseNumber != nil {
		base.LicenseNumber = next.LicenseNumber
	}
	if next.LicenseExpiry != nil {
		base.LicenseExpiry = next.LicenseExpiry
	}
	return base
}
