// Package events holds the domain events returned by the pool and driver state
// machines. Callers persist them and hand them to a Publisher; the state machines
// never deliver anything themselves.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"poolride/internal/types"
)

type Kind string

const (
	ParticipantJoined     Kind = "PARTICIPANT_JOINED"
	ParticipantLeft       Kind = "PARTICIPANT_LEFT"
	PoolReady             Kind = "POOL_READY"
	PoolReopened          Kind = "POOL_REOPENED"
	DriverAssigned        Kind = "DRIVER_ASSIGNED"
	PickupStarted         Kind = "PICKUP_STARTED"
	ParticipantPickedUp   Kind = "PARTICIPANT_PICKED_UP"
	RideStarted           Kind = "RIDE_STARTED"
	ParticipantDroppedOff Kind = "PARTICIPANT_DROPPED_OFF"
	RideCompleted         Kind = "RIDE_COMPLETED"
	PoolCancelled         Kind = "POOL_CANCELLED"
	PoolExpired           Kind = "POOL_EXPIRED"

	VerificationRequested Kind = "VERIFICATION_REQUESTED"
	VerificationApproved  Kind = "VERIFICATION_APPROVED"
	VerificationRejected  Kind = "VERIFICATION_REJECTED"
)

type SubjectType string

const (
	SubjectPool   SubjectType = "pool"
	SubjectDriver SubjectType = "driver"
)

type Event struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	SubjectType SubjectType       `json:"subject_type"`
	SubjectID   types.ID          `json:"subject_id"`
	Recipients  []types.ID        `json:"recipients,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

func New(kind Kind, subjectType SubjectType, subjectID types.ID, recipients []types.ID, data map[string]string, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Recipients:  recipients,
		Data:        data,
		OccurredAt:  at,
	}
}

// Publisher delivers events to users or downstream systems. Delivery is best
// effort: a publish failure never rolls back the state change that produced it.
type Publisher interface {
	Publish(ctx context.Context, evts []Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, []Event) error { return nil }

// Kinds is a small helper for tests and logging.
func Kinds(evts []Event) []Kind {
	out := make([]Kind, len(evts))
	for i, e := range evts {
		out[i] = e.Kind
	}
	return out
}
