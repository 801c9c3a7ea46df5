// README: Pool ride aggregate, participant slice and status definitions.
package pool

import (
	"fmt"
	"time"

	"poolride/internal/config"
	"poolride/internal/types"
)

type Status string

const (
	StatusWaiting          Status = "WAITING"
	StatusReady            Status = "READY"
	StatusDriverAssigned   Status = "DRIVER_ASSIGNED"
	StatusPickupInProgress Status = "PICKUP_IN_PROGRESS"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
	StatusExpired          Status = "EXPIRED"
)

type ParticipantStatus string

const (
	ParticipantJoined     ParticipantStatus = "JOINED"
	ParticipantConfirmed  ParticipantStatus = "CONFIRMED"
	ParticipantPickedUp   ParticipantStatus = "PICKED_UP"
	ParticipantDroppedOff ParticipantStatus = "DROPPED_OFF"
	ParticipantCancelled  ParticipantStatus = "CANCELLED"
)

// Route is the aggregate pickup and drop area of a pool: the centroid of its
// active participants' points.
type Route struct {
	Pickup types.Point `json:"pickup"`
	Drop   types.Point `json:"drop"`
	Label  string      `json:"label"`
}

type Participant struct {
	StudentID    types.ID          `json:"student_id"`
	StudentName  string            `json:"student_name,omitempty"`
	Pickup       types.Point       `json:"pickup"`
	Drop         types.Point       `json:"drop"`
	PickupLabel  string            `json:"pickup_label,omitempty"`
	DropLabel    string            `json:"drop_label,omitempty"`
	SeatsNeeded  int               `json:"seats_needed"`
	SoloFare     float64           `json:"solo_fare"`
	FarePerSeat  float64           `json:"fare_per_seat"`
	TotalFare    float64           `json:"total_fare"`
	Status       ParticipantStatus `json:"status"`
	PickupOrder  int               `json:"pickup_order"`
	DropoffOrder int               `json:"dropoff_order"`
	JoinedAt     time.Time         `json:"joined_at"`
}

func (p Participant) Active() bool {
	return p.Status != ParticipantCancelled
}

// DriverAssignment is populated once a verified driver accepts the pool.
type DriverAssignment struct {
	DriverID      types.ID `json:"driver_id"`
	DriverName    string   `json:"driver_name"`
	DriverPhone   string   `json:"driver_phone"`
	VehicleNumber string   `json:"vehicle_number"`
	BookingID     string   `json:"booking_id"`
}

type PoolRide struct {
	ID      types.ID `json:"id"`
	Version int      `json:"version"`
	Route   Route    `json:"route"`

	DepartureTime time.Time `json:"departure_time"`
	IsImmediate   bool      `json:"is_immediate"`

	MaxSeats       int `json:"max_seats"`
	AvailableSeats int `json:"available_seats"`
	OccupiedSeats  int `json:"occupied_seats"`

	BaseFare     float64 `json:"base_fare"`
	FarePerSeat  float64 `json:"fare_per_seat"`
	PoolDiscount float64 `json:"pool_discount"`

	Status       Status            `json:"status"`
	Participants []Participant     `json:"participants"`
	Driver       *DriverAssignment `json:"driver"`

	MatchRadiusKm float64   `json:"match_radius_km"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CancelReason  *string   `json:"cancel_reason,omitempty"`
}

// AllowedTransitions represents the pool state flow as code. READY -> WAITING
// happens when a withdrawal drops the pool below the participant minimum.
var AllowedTransitions = map[Status][]Status{
	StatusWaiting:          {StatusReady, StatusCancelled, StatusExpired},
	StatusReady:            {StatusWaiting, StatusDriverAssigned, StatusCancelled, StatusExpired},
	StatusDriverAssigned:   {StatusPickupInProgress},
	StatusPickupInProgress: {StatusInProgress},
	StatusInProgress:       {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Assigned reports whether the status is at or beyond DRIVER_ASSIGNED on the
// happy path, i.e. the participant list is frozen.
func (s Status) Assigned() bool {
	switch s {
	case StatusDriverAssigned, StatusPickupInProgress, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Open reports whether the pool still accepts joins and withdrawals.
func (s Status) Open() bool {
	return s == StatusWaiting || s == StatusReady
}

func (p PoolRide) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(p.Participants))
	for _, pt := range p.Participants {
		if pt.Active() {
			out = append(out, pt)
		}
	}
	return out
}

func (p PoolRide) ActiveStudentIDs() []types.ID {
	var out []types.ID
	for _, pt := range p.Participants {
		if pt.Active() {
			out = append(out, pt.StudentID)
		}
	}
	return out
}

func (p PoolRide) participantIndex(studentID types.ID) int {
	for i, pt := range p.Participants {
		if pt.StudentID == studentID && pt.Active() {
			return i
		}
	}
	return -1
}

func (p PoolRide) HasActiveParticipant(studentID types.ID) bool {
	return p.participantIndex(studentID) >= 0
}

// clone copies everything a transition may modify so the caller's value is
// never touched by a failed transition.
func (p PoolRide) clone() PoolRide {
	c := p
	c.Participants = append([]Participant(nil), p.Participants...)
	if p.Driver != nil {
		d := *p.Driver
		c.Driver = &d
	}
	if p.CancelReason != nil {
		r := *p.CancelReason
		c.CancelReason = &r
	}
	return c
}

// SearchRequest is a student's fully resolved ride search: points validated,
// departure normalised and the solo fare already quoted.
type SearchRequest struct {
	StudentID     types.ID
	StudentName   string
	Pickup        types.Point
	Drop          types.Point
	PickupLabel   string
	DropLabel     string
	DepartureTime time.Time
	IsImmediate   bool
	SeatsNeeded   int
	DistanceKm    float64
	// SoloFare is what the student would pay riding alone.
	SoloFare float64
}

func (r SearchRequest) Validate(cfg config.PoolConfig) error {
	switch {
	case r.StudentID == "":
		return fmt.Errorf("%w: missing student id", ErrInvalidRequest)
	case r.SeatsNeeded < 1 || r.SeatsNeeded > cfg.MaxSeats:
		return fmt.Errorf("%w: seats needed must be in 1..%d, got %d", ErrInvalidRequest, cfg.MaxSeats, r.SeatsNeeded)
	case !r.Pickup.Valid() || !r.Drop.Valid():
		return fmt.Errorf("%w: pickup or drop out of range", ErrInvalidRequest)
	case r.SoloFare <= 0:
		return fmt.Errorf("%w: solo fare must be positive", ErrInvalidRequest)
	case !r.IsImmediate && r.DepartureTime.IsZero():
		return fmt.Errorf("%w: scheduled ride needs a departure time", ErrInvalidRequest)
	}
	return nil
}

// Match is one compatible pool for a search, with its score and fare estimate.
type Match struct {
	PoolID             types.ID  `json:"pool_id"`
	PoolVersion        int       `json:"pool_version"`
	RouteLabel         string    `json:"route_label"`
	MatchScore         float64   `json:"match_score"`
	PickupDeviationKm  float64   `json:"pickup_deviation_km"`
	DropDeviationKm    float64   `json:"drop_deviation_km"`
	TimeDifferenceSec  int64     `json:"time_difference_sec"`
	ResultingOccupancy int       `json:"resulting_occupancy"`
	FarePerSeat        float64   `json:"fare_per_seat"`
	EstimatedFare      float64   `json:"estimated_fare"`
	EstimatedSavings   float64   `json:"estimated_savings"`
	DepartureTime      time.Time `json:"departure_time"`
	PoolCreatedAt      time.Time `json:"pool_created_at"`
}
