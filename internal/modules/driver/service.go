// README: Driver service persists profiles and enforces who may edit and review them.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"poolride/internal/clock"
	"poolride/internal/events"
	"poolride/internal/logging"
	"poolride/internal/observability"
	"poolride/internal/types"
)

// Repository persists profiles with optimistic versioning, like the pool store.
type Repository interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id types.ID) (*Profile, error)
	Update(ctx context.Context, p *Profile, expectedVersion int) error
	ListPending(ctx context.Context, limit int) ([]Profile, error)
}

// RoleLookup answers whether a caller holds the admin role.
type RoleLookup interface {
	IsAdmin(ctx context.Context, uid types.ID) (bool, error)
}

// Presence mirrors availability to the realtime location feed.
type Presence interface {
	SetAvailability(ctx context.Context, driverID types.ID, online bool) error
}

type EventLog interface {
	Append(ctx context.Context, evts []events.Event) error
}

type Deps struct {
	Repo      Repository
	Roles     RoleLookup
	Presence  Presence
	EventLog  EventLog
	Publisher events.Publisher
	Clock     clock.Clock
	Log       *slog.Logger
	Timeout   time.Duration
}

type Service struct {
	repo      Repository
	roles     RoleLookup
	presence  Presence
	eventLog  EventLog
	publisher events.Publisher
	clock     clock.Clock
	log       *slog.Logger
	timeout   time.Duration
}

func NewService(deps Deps) *Service {
	s := &Service{
		repo:      deps.Repo,
		roles:     deps.Roles,
		presence:  deps.Presence,
		eventLog:  deps.EventLog,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		log:       deps.Log,
		timeout:   deps.Timeout,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Second
	}
	return s
}

type RegisterCommand struct {
	DriverID     types.ID
	Registration Registration
}

type EditCommand struct {
	DriverID types.ID
	ActorID  types.ID
	Edit     Edit
}

type DecisionCommand struct {
	DriverID types.ID
	AdminID  types.ID
	Reason   string
}

type AvailabilityCommand struct {
	DriverID types.ID
	ActorID  types.ID
	Online   bool
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Profile, error) {
	p, evts, err := NewProfile(cmd.DriverID, cmd.Registration, s.clock.Now())
	if err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.repo.Create(tctx, &p)
	cancel()
	if err != nil {
		return nil, err
	}
	s.log.Info("driver registered", "driver_id", p.ID)
	s.afterWrite(ctx, &p, evts)
	return &p, nil
}

// Get returns a profile to its owner or to an admin.
func (s *Service) Get(ctx context.Context, driverID, actorID types.ID) (*Profile, error) {
	if err := s.requireSelfOrAdmin(ctx, driverID, actorID); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.Get(tctx, driverID)
}

func (s *Service) Edit(ctx context.Context, cmd EditCommand) (*Profile, error) {
	if cmd.ActorID != cmd.DriverID {
		return nil, fmt.Errorf("%w: drivers can only edit their own profile", types.ErrForbidden)
	}
	p, err := s.mutate(ctx, cmd.DriverID, func(cur Profile, now time.Time) (Profile, []events.Event, error) {
		return ApplyEdit(cur, cmd.Edit, now)
	})
	if err != nil {
		return nil, err
	}
	if p.ProfileUpdatePending && p.Availability == Offline {
		s.syncPresence(ctx, p.ID, false)
	}
	return p, nil
}

func (s *Service) Approve(ctx context.Context, cmd DecisionCommand) (*Profile, error) {
	if err := s.requireAdmin(ctx, cmd.AdminID); err != nil {
		return nil, err
	}
	p, err := s.mutate(ctx, cmd.DriverID, func(cur Profile, now time.Time) (Profile, []events.Event, error) {
		return Approve(cur, cmd.AdminID, now)
	})
	if err != nil {
		return nil, err
	}
	observability.VerificationDecisions.WithLabelValues("approved").Inc()
	s.log.Info("driver approved", "driver_id", p.ID, "admin_id", cmd.AdminID)
	return p, nil
}

func (s *Service) Reject(ctx context.Context, cmd DecisionCommand) (*Profile, error) {
	if err := s.requireAdmin(ctx, cmd.AdminID); err != nil {
		return nil, err
	}
	p, err := s.mutate(ctx, cmd.DriverID, func(cur Profile, now time.Time) (Profile, []events.Event, error) {
		return Reject(cur, cmd.AdminID, cmd.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	observability.VerificationDecisions.WithLabelValues("rejected").Inc()
	s.log.Info("driver rejected", "driver_id", p.ID, "admin_id", cmd.AdminID)
	s.syncPresence(ctx, p.ID, false)
	return p, nil
}

func (s *Service) SetAvailability(ctx context.Context, cmd AvailabilityCommand) (*Profile, error) {
	if cmd.ActorID != cmd.DriverID {
		return nil, fmt.Errorf("%w: drivers can only change their own availability", types.ErrForbidden)
	}
	p, err := s.mutate(ctx, cmd.DriverID, func(cur Profile, now time.Time) (Profile, []events.Event, error) {
		next, err := SetAvailability(cur, cmd.Online, now)
		return next, nil, err
	})
	if err != nil {
		return nil, err
	}
	s.syncPresence(ctx, p.ID, cmd.Online)
	return p, nil
}

func (s *Service) ListPending(ctx context.Context, adminID types.ID, limit int) ([]Profile, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListPending(tctx, limit)
}

// EnsureCanAcceptRides returns the profile of a driver who may take a booking now.
func (s *Service) EnsureCanAcceptRides(ctx context.Context, driverID types.ID) (*Profile, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	p, err := s.repo.Get(tctx, driverID)
	if err != nil {
		return nil, err
	}
	if !p.CanAcceptRides() {
		return nil, fmt.Errorf("%w: driver %s is %s, update pending=%v, %s", types.ErrForbidden, p.ID, p.VerificationStatus, p.ProfileUpdatePending, p.Availability)
	}
	return p, nil
}

type profileTransition func(cur Profile, now time.Time) (Profile, []events.Event, error)

func (s *Service) mutate(ctx context.Context, id types.ID, fn profileTransition) (*Profile, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.repo.Get(tctx, id)
	if err != nil {
		return nil, err
	}
	next, evts, err := fn(*cur, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(tctx, &next, cur.Version); err != nil {
		return nil, err
	}
	if cur.VerificationStatus == StatusApproved && next.ProfileUpdatePending {
		observability.ReverificationsOpened.Inc()
		s.log.Info("driver sent back to review", "driver_id", id)
	}
	s.afterWrite(ctx, &next, evts)
	return &next, nil
}

func (s *Service) afterWrite(ctx context.Context, p *Profile, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.eventLog != nil {
		if err := s.eventLog.Append(tctx, evts); err != nil {
			s.log.Error("append driver events", "driver_id", p.ID, "err", err)
		}
	}
	if err := s.publisher.Publish(tctx, evts); err != nil {
		s.log.Warn("publish driver events", "driver_id", p.ID, "kinds", events.Kinds(evts), "err", err)
	}
}

func (s *Service) syncPresence(ctx context.Context, id types.ID, online bool) {
	if s.presence == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.presence.SetAvailability(tctx, id, online); err != nil {
		s.log.Warn("sync driver presence", "driver_id", id, "online", online, "err", err)
	}
}

func (s *Service) requireAdmin(ctx context.Context, uid types.ID) error {
	if s.roles == nil || uid == "" {
		return fmt.Errorf("%w: admin role required", types.ErrForbidden)
	}
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.roles.IsAdmin(tctx, uid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: admin role required", types.ErrForbidden)
	}
	return nil
}

func (s *Service) requireSelfOrAdmin(ctx context.Context, driverID, actorID types.ID) error {
	if actorID != "" && actorID == driverID {
		return nil
	}
	return s.requireAdmin(ctx, actorID)
}
