// README: Pool service orchestrates matching, pool transitions, persistence and events.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"poolride/internal/clock"
	"poolride/internal/config"
	"poolride/internal/events"
	"poolride/internal/geo"
	"poolride/internal/logging"
	"poolride/internal/modules/fare"
	"poolride/internal/observability"
	"poolride/internal/types"
)

// Repository persists pools with optimistic versioning. Update must fail with
// types.ErrConflict when the stored version differs from expectedVersion and
// set p.Version to the new version on success.
type Repository interface {
	Create(ctx context.Context, p *PoolRide) error
	Get(ctx context.Context, id types.ID) (*PoolRide, error)
	Update(ctx context.Context, p *PoolRide, expectedVersion int) error
	ListOpenNear(ctx context.Context, at types.Point, radiusKm float64, now time.Time) ([]PoolRide, error)
	ListOpenByIDs(ctx context.Context, ids []types.ID, now time.Time) ([]PoolRide, error)
	ListExpirable(ctx context.Context, now time.Time) ([]PoolRide, error)
	HasActiveByStudent(ctx context.Context, studentID types.ID) (bool, error)
}

// OpenPoolIndex narrows candidate pools by pickup proximity.
type OpenPoolIndex interface {
	Add(ctx context.Context, p PoolRide) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, at types.Point, radiusKm float64) ([]types.ID, error)
}

type EventLog interface {
	Append(ctx context.Context, evts []events.Event) error
}

type FareQuoter interface {
	SoloFare(ctx context.Context, distanceKm float64) (fare.Quote, error)
}

type DistanceEstimator interface {
	DistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

// DriverDirectory resolves a driver who is currently allowed to accept rides.
type DriverDirectory interface {
	Assignable(ctx context.Context, driverID types.ID) (DriverAssignment, error)
}

var ErrActivePool = fmt.Errorf("%w: student already has an active pool", types.ErrInvalidInput)

type Deps struct {
	Repo      Repository
	Index     OpenPoolIndex
	EventLog  EventLog
	Publisher events.Publisher
	Fares     FareQuoter
	Distance  DistanceEstimator
	Drivers   DriverDirectory
	Clock     clock.Clock
	Log       *slog.Logger
}

type Service struct {
	repo      Repository
	index     OpenPoolIndex
	eventLog  EventLog
	publisher events.Publisher
	fares     FareQuoter
	distance  DistanceEstimator
	drivers   DriverDirectory
	clock     clock.Clock
	log       *slog.Logger

	cfg     config.PoolConfig
	machine *Machine
	matcher *Matcher
}

func NewService(cfg config.PoolConfig, deps Deps) *Service {
	s := &Service{
		repo:      deps.Repo,
		index:     deps.Index,
		eventLog:  deps.EventLog,
		publisher: deps.Publisher,
		fares:     deps.Fares,
		distance:  deps.Distance,
		drivers:   deps.Drivers,
		clock:     deps.Clock,
		log:       deps.Log,
		cfg:       cfg,
		machine:   NewMachine(cfg),
		matcher:   NewMatcher(cfg),
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
	return s
}

type SearchCommand struct {
	StudentID     types.ID
	StudentName   string
	Pickup        types.Point
	Drop          types.Point
	PickupLabel   string
	DropLabel     string
	DepartureTime *time.Time
	SeatsNeeded   int
}

type JoinCommand struct {
	PoolID types.ID
	Search SearchCommand
}

type LeaveCommand struct {
	PoolID    types.ID
	StudentID types.ID
}

type AssignCommand struct {
	PoolID          types.ID
	DriverID        types.ID
	PickupSequence  []types.ID
	DropoffSequence []types.ID
}

type StartPickupCommand struct {
	PoolID   types.ID
	DriverID types.ID
}

type StopCommand struct {
	PoolID    types.ID
	DriverID  types.ID
	StudentID types.ID
}

type CancelCommand struct {
	PoolID  types.ID
	ActorID types.ID
	Reason  string
}

type SearchResult struct {
	SoloFare fare.Quote `json:"solo_fare"`
	Matches  []Match    `json:"matches"`
}

type BookResult struct {
	Pool     *PoolRide `json:"pool"`
	Created  bool      `json:"created"`
	Attempts int       `json:"attempts"`
}

// Search quotes the solo fare and ranks the open pools for a request without
// changing anything.
func (s *Service) Search(ctx context.Context, cmd SearchCommand) (*SearchResult, error) {
	req, quote, err := s.buildRequest(ctx, cmd)
	if err != nil {
		return nil, err
	}
	matches, err := s.findMatches(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SearchResult{SoloFare: quote, Matches: matches}, nil
}

// FareTable is a solo quote plus the per-seat split at every pool occupancy.
type FareTable struct {
	Solo  fare.Quote            `json:"solo"`
	Split []fare.PoolFareResult `json:"split"`
}

// QuoteFares prices a trip solo and at each occupancy a pool can reach.
func (s *Service) QuoteFares(ctx context.Context, pickup, drop types.Point) (*FareTable, error) {
	if !pickup.Valid() || !drop.Valid() {
		return nil, fmt.Errorf("%w: pickup or drop out of range", ErrInvalidRequest)
	}
	if s.fares == nil {
		return nil, errors.New("fare quoter not configured")
	}
	dist := s.distanceKm(ctx, pickup, drop)
	qctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	quote, err := s.fares.SoloFare(qctx, dist)
	cancel()
	if err != nil {
		return nil, err
	}
	table := &FareTable{Solo: quote, Split: make([]fare.PoolFareResult, 0, s.cfg.MaxSeats)}
	for occ := 1; occ <= s.cfg.MaxSeats; occ++ {
		r, err := fare.ComputePoolFare(quote.Amount, occ, s.cfg)
		if err != nil {
			return nil, err
		}
		table.Split = append(table.Split, r)
	}
	return table, nil
}

// Book joins the best matching pool or opens a new one. Lost version races and
// candidates that filled up in the meantime are retried on fresh state up to
// MaxJoinRetries times.
func (s *Service) Book(ctx context.Context, cmd SearchCommand) (*BookResult, error) {
	req, _, err := s.buildRequest(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoActivePool(ctx, req.StudentID); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxJoinRetries; attempt++ {
		matches, err := s.findMatches(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			p, err := s.create(ctx, req)
			if err != nil {
				return nil, err
			}
			return &BookResult{Pool: p, Created: true, Attempts: attempt}, nil
		}

		p, err := s.join(ctx, matches[0].PoolID, req)
		if err == nil {
			return &BookResult{Pool: p, Attempts: attempt}, nil
		}
		if !retryableJoin(err) {
			return nil, err
		}
		lastErr = err
		observability.JoinRetries.Inc()
		s.log.Info("pool join retry", "pool_id", matches[0].PoolID, "student_id", req.StudentID, "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %v", types.ErrConflict, s.cfg.MaxJoinRetries, lastErr)
}

// Join adds the student to a specific pool. A lost version race surfaces as
// types.ErrConflict for the caller to retry.
func (s *Service) Join(ctx context.Context, cmd JoinCommand) (*PoolRide, error) {
	req, _, err := s.buildRequest(ctx, cmd.Search)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoActivePool(ctx, req.StudentID); err != nil {
		return nil, err
	}
	return s.join(ctx, cmd.PoolID, req)
}

func (s *Service) Leave(ctx context.Context, cmd LeaveCommand) (*PoolRide, error) {
	return s.mutate(ctx, cmd.PoolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.Leave(p, cmd.StudentID, now)
	})
}

func (s *Service) AssignDriver(ctx context.Context, cmd AssignCommand) (*PoolRide, error) {
	if s.drivers == nil {
		return nil, fmt.Errorf("%w: driver directory not configured", types.ErrForbidden)
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	a, err := s.drivers.Assignable(tctx, cmd.DriverID)
	cancel()
	if err != nil {
		return nil, err
	}
	a.BookingID = uuid.NewString()
	return s.mutate(ctx, cmd.PoolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.AssignDriver(p, a, cmd.PickupSequence, cmd.DropoffSequence, now)
	})
}

func (s *Service) StartPickup(ctx context.Context, cmd StartPickupCommand) (*PoolRide, error) {
	return s.mutate(ctx, cmd.PoolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.StartPickup(p, cmd.DriverID, now)
	})
}

func (s *Service) MarkPickedUp(ctx context.Context, cmd StopCommand) (*PoolRide, error) {
	return s.mutate(ctx, cmd.PoolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.MarkPickedUp(p, cmd.DriverID, cmd.StudentID, now)
	})
}

func (s *Service) MarkDroppedOff(ctx context.Context, cmd StopCommand) (*PoolRide, error) {
	return s.mutate(ctx, cmd.PoolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.MarkDroppedOff(p, cmd.DriverID, cmd.StudentID, now)
	})
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*PoolRide, error) {
	return s.mutate(ctx, cmd.PoolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.Cancel(p, cmd.Reason, now)
	})
}

func (s *Service) Get(ctx context.Context, id types.ID) (*PoolRide, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.Get(ctx, id)
}

// SweepExpired expires every open pool past its expiresAt. Pools that change
// between the read and the write are skipped; the next sweep sees them again.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	lctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	pools, err := s.repo.ListExpirable(lctx, now)
	cancel()
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cur := range pools {
		next, evts, ok := s.machine.Expire(cur, now)
		if !ok {
			continue
		}
		uctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err := s.repo.Update(uctx, &next, cur.Version)
		cancel()
		if errors.Is(err, types.ErrConflict) {
			observability.SweepConflicts.Inc()
			s.log.Debug("expiry skipped, pool changed", "pool_id", cur.ID)
			continue
		}
		if err != nil {
			s.log.Error("expire pool", "pool_id", cur.ID, "err", err)
			continue
		}
		observability.PoolsExpired.Inc()
		s.afterWrite(ctx, cur.Status, &next, evts)
		expired++
	}
	return expired, nil
}

// RunExpirySweep runs SweepExpired every SweepInterval until ctx is done.
func (s *Service) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.log.Error("expiry sweep", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("expiry sweep", "expired", n)
			}
		}
	}
}

func (s *Service) buildRequest(ctx context.Context, cmd SearchCommand) (SearchRequest, fare.Quote, error) {
	if !cmd.Pickup.Valid() || !cmd.Drop.Valid() {
		return SearchRequest{}, fare.Quote{}, fmt.Errorf("%w: pickup or drop out of range", ErrInvalidRequest)
	}
	now := s.clock.Now()
	req := SearchRequest{
		StudentID:   cmd.StudentID,
		StudentName: cmd.StudentName,
		Pickup:      cmd.Pickup,
		Drop:        cmd.Drop,
		PickupLabel: cmd.PickupLabel,
		DropLabel:   cmd.DropLabel,
		SeatsNeeded: cmd.SeatsNeeded,
		IsImmediate: cmd.DepartureTime == nil,
	}
	if cmd.DepartureTime != nil {
		req.DepartureTime = *cmd.DepartureTime
	} else {
		req.DepartureTime = now
	}

	req.DistanceKm = s.distanceKm(ctx, cmd.Pickup, cmd.Drop)
	if s.fares == nil {
		return SearchRequest{}, fare.Quote{}, errors.New("fare quoter not configured")
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	quote, err := s.fares.SoloFare(qctx, req.DistanceKm)
	cancel()
	if err != nil {
		return SearchRequest{}, fare.Quote{}, err
	}
	req.SoloFare = quote.Amount

	if err := req.Validate(s.cfg); err != nil {
		return SearchRequest{}, fare.Quote{}, err
	}
	return req, quote, nil
}

// distanceKm prefers road distance and falls back to the great-circle distance.
func (s *Service) distanceKm(ctx context.Context, from, to types.Point) float64 {
	if s.distance != nil {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		d, err := s.distance.DistanceKm(tctx, from, to)
		cancel()
		if err == nil && d > 0 {
			return d
		}
		if err != nil {
			s.log.Warn("route distance unavailable, using haversine", "err", err)
		}
	}
	return geo.HaversineKm(from, to)
}

func (s *Service) findMatches(ctx context.Context, req SearchRequest) ([]Match, error) {
	start := time.Now()
	candidates, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	matches, err := s.matcher.FindMatches(req, candidates, s.clock.Now())
	if err != nil {
		return nil, err
	}
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchesFound.Observe(float64(len(matches)))
	return matches, nil
}

func (s *Service) candidates(ctx context.Context, req SearchRequest) ([]PoolRide, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	now := s.clock.Now()

	if s.index != nil {
		ids, err := s.index.Nearby(ctx, req.Pickup, s.cfg.MaxMatchRadiusKm)
		if err == nil {
			if len(ids) == 0 {
				return nil, nil
			}
			return s.repo.ListOpenByIDs(ctx, ids, now)
		}
		s.log.Warn("open pool index unavailable, scanning store", "err", err)
	}
	return s.repo.ListOpenNear(ctx, req.Pickup, s.cfg.MaxMatchRadiusKm, now)
}

func (s *Service) ensureNoActivePool(ctx context.Context, studentID types.ID) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	active, err := s.repo.HasActiveByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if active {
		return ErrActivePool
	}
	return nil
}

func (s *Service) create(ctx context.Context, req SearchRequest) (*PoolRide, error) {
	p, evts, err := s.machine.NewPool(types.ID(uuid.NewString()), req, s.clock.Now())
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err = s.repo.Create(cctx, &p)
	cancel()
	if err != nil {
		return nil, err
	}
	observability.PoolsCreated.Inc()
	s.log.Info("pool created", "pool_id", p.ID, "student_id", req.StudentID, "immediate", p.IsImmediate)
	s.afterWrite(ctx, "", &p, evts)
	return &p, nil
}

func (s *Service) join(ctx context.Context, poolID types.ID, req SearchRequest) (*PoolRide, error) {
	p, err := s.mutate(ctx, poolID, func(p PoolRide, now time.Time) (PoolRide, []events.Event, error) {
		return s.machine.Join(p, req, now)
	})
	result := "ok"
	switch {
	case errors.Is(err, types.ErrConflict):
		result = "conflict"
	case err != nil:
		result = "rejected"
	}
	observability.PoolJoins.WithLabelValues(result).Inc()
	return p, err
}

type transition func(p PoolRide, now time.Time) (PoolRide, []events.Event, error)

// mutate is one read, transition, compare-and-swap cycle under StoreTimeout.
func (s *Service) mutate(ctx context.Context, id types.ID, fn transition) (*PoolRide, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
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
	s.afterWrite(ctx, cur.Status, &next, evts)
	return &next, nil
}

// afterWrite runs the best-effort side effects of a committed write. None of
// them can undo it.
func (s *Service) afterWrite(ctx context.Context, from Status, p *PoolRide, evts []events.Event) {
	if from != p.Status {
		observability.PoolTransitions.WithLabelValues(string(p.Status)).Inc()
		s.log.Info("pool transition", "pool_id", p.ID, "from", from, "to", p.Status, "version", p.Version)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if s.index != nil {
		var err error
		if p.Status == StatusWaiting {
			err = s.index.Add(tctx, *p)
		} else {
			err = s.index.Remove(tctx, p.ID)
		}
		if err != nil {
			s.log.Warn("open pool index update", "pool_id", p.ID, "err", err)
		}
	}
	if len(evts) == 0 {
		return
	}
	if s.eventLog != nil {
		if err := s.eventLog.Append(tctx, evts); err != nil {
			s.log.Error("append pool events", "pool_id", p.ID, "err", err)
		}
	}
	if err := s.publisher.Publish(tctx, evts); err != nil {
		s.log.Warn("publish pool events", "pool_id", p.ID, "kinds", events.Kinds(evts), "err", err)
	}
}

// retryableJoin reports whether Book should re-match after a failed join: a lost
// version race, or a candidate that filled up or closed after it was ranked.
func retryableJoin(err error) bool {
	return errors.Is(err, types.ErrConflict) || errors.Is(err, ErrPoolFull) || errors.Is(err, ErrPoolClosed)
}
