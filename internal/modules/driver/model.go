// README: Driver profile, vehicle details and verification status definitions.
package driver

import (
	"time"

	"poolride/internal/types"
)

type VerificationStatus string

const (
	StatusPending  VerificationStatus = "PENDING"
	StatusApproved VerificationStatus = "APPROVED"
	StatusRejected VerificationStatus = "REJECTED"
)

type Availability string

const (
	Online  Availability = "ONLINE"
	Offline Availability = "OFFLINE"
)

// VehicleDetails is the verification-sensitive part of a profile. Any change
// to an approved driver's vehicle details needs an admin review.
type VehicleDetails struct {
	VehicleType               string    `json:"vehicle_type"`
	VehicleModel              string    `json:"vehicle_model"`
	VehicleRegistrationNumber string    `json:"vehicle_registration_number"`
	SeatingCapacity           int       `json:"seating_capacity"`
	LicenseNumber             string    `json:"license_number"`
	LicenseExpiry             time.Time `json:"license_expiry"`
}

// SensitiveUpdate holds proposed vehicle detail changes; nil means unchanged.
type SensitiveUpdate struct {
	VehicleType               *string    `json:"vehicle_type,omitempty"`
	VehicleModel              *string    `json:"vehicle_model,omitempty"`
	VehicleRegistrationNumber *string    `json:"vehicle_registration_number,omitempty"`
	SeatingCapacity           *int       `json:"seating_capacity,omitempty"`
	LicenseNumber             *string    `json:"license_number,omitempty"`
	LicenseExpiry             *time.Time `json:"license_expiry,omitempty"`
}

func (u SensitiveUpdate) Empty() bool {
	return u.VehicleType == nil && u.VehicleModel == nil && u.VehicleRegistrationNumber == nil &&
		u.SeatingCapacity == nil && u.LicenseNumber == nil && u.LicenseExpiry == nil
}

// Edit is a driver's profile edit. Contact fields apply immediately.
type Edit struct {
	Name     *string `json:"name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Email    *string `json:"email,omitempty"`
	PhotoURL *string `json:"photo_url,omitempty"`

	SensitiveUpdate
}

type Profile struct {
	ID      types.ID `json:"id"`
	Version int      `json:"version"`

	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`

	Vehicle VehicleDetails `json:"vehicle"`

	VerificationStatus   VerificationStatus `json:"verification_status"`
	ProfileUpdatePending bool               `json:"profile_update_pending"`
	PendingUpdates       *SensitiveUpdate   `json:"pending_updates,omitempty"`
	RejectionReason      *string            `json:"rejection_reason,omitempty"`
	EverApproved         bool               `json:"ever_approved"`
	Availability         Availability       `json:"availability"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy *types.ID  `json:"reviewed_by,omitempty"`
}

// CanGoOnline reports whether the driver may toggle online.
func (p Profile) CanGoOnline() bool {
	return p.VerificationStatus == StatusApproved && !p.ProfileUpdatePending
}

// CanAcceptRides reports whether the driver may accept a booking right now.
func (p Profile) CanAcceptRides() bool {
	return p.CanGoOnline() && p.Availability == Online
}

func (p Profile) clone() Profile {
	c := p
	if p.PendingUpdates != nil {
		u := *p.PendingUpdates
		c.PendingUpdates = &u
	}
	if p.RejectionReason != nil {
		r := *p.RejectionReason
		c.RejectionReason = &r
	}
	return c
}
