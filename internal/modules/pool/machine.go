// README: Pure pool state machine. Every transition works on a copy and returns the
// new pool plus the events it produced; on error the input is left untouched.
package pool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"poolride/internal/config"
	"poolride/internal/events"
	"poolride/internal/geo"
	"poolride/internal/modules/fare"
	"poolride/internal/types"
)

var (
	ErrInvalidRequest = fmt.Errorf("%w: invalid pool request", types.ErrInvalidInput)
	ErrAlreadyJoined  = fmt.Errorf("%w: student already in pool", types.ErrInvalidInput)
	ErrPoolFull       = fmt.Errorf("%w: not enough seats", types.ErrInvalidTransition)
	ErrPoolClosed     = fmt.Errorf("%w: pool no longer open", types.ErrInvalidTransition)
	ErrNotParticipant = fmt.Errorf("%w: student not in pool", types.ErrNotFound)
	ErrWrongDriver    = fmt.Errorf("%w: pool assigned to another driver", types.ErrForbidden)
	ErrOutOfOrder     = fmt.Errorf("%w: stop out of order", types.ErrInvalidTransition)
	ErrStopRecorded   = fmt.Errorf("%w: stop already recorded", types.ErrInvalidTransition)
	errInvariant      = errors.New("pool invariant violated")
)

type Machine struct {
	cfg config.PoolConfig
}

func NewMachine(cfg config.PoolConfig) *Machine {
	return &Machine{cfg: cfg}
}

// NewPool opens a WAITING pool around its first participant.
func (m *Machine) NewPool(id types.ID, req SearchRequest, now time.Time) (PoolRide, []events.Event, error) {
	if id == "" {
		return PoolRide{}, nil, fmt.Errorf("%w: missing pool id", ErrInvalidRequest)
	}
	if err := req.Validate(m.cfg); err != nil {
		return PoolRide{}, nil, err
	}

	departure := now
	expiresAt := now.Add(m.cfg.WaitWindow)
	if !req.IsImmediate {
		if !req.DepartureTime.After(now) {
			return PoolRide{}, nil, fmt.Errorf("%w: departure time is in the past", ErrInvalidRequest)
		}
		departure = req.DepartureTime
		// A scheduled pool stays open until a driver search has to begin.
		if t := departure.Add(-m.cfg.DriverSearchWindow); t.After(expiresAt) {
			expiresAt = t
		}
	}

	p := PoolRide{
		ID:            id,
		Version:       1,
		Route:         Route{Label: routeLabel(req)},
		DepartureTime: departure,
		IsImmediate:   req.IsImmediate,
		MaxSeats:      m.cfg.MaxSeats,
		PoolDiscount:  m.cfg.PoolDiscount,
		Status:        StatusWaiting,
		MatchRadiusKm: math.Min(m.cfg.MatchRadiusKm, m.cfg.MaxMatchRadiusKm),
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.Participants = []Participant{newParticipant(req, 1, 1, now)}

	evts := []events.Event{joinedEvent(p.ID, req, now)}
	return m.settle(p, evts, now)
}

// Join adds a participant to a WAITING or READY pool.
func (m *Machine) Join(cur PoolRide, req SearchRequest, now time.Time) (PoolRide, []events.Event, error) {
	if err := req.Validate(m.cfg); err != nil {
		return cur, nil, err
	}
	if !cur.Status.Open() || !now.Before(cur.ExpiresAt) {
		return cur, nil, ErrPoolClosed
	}
	if cur.HasActiveParticipant(req.StudentID) {
		return cur, nil, ErrAlreadyJoined
	}
	if cur.AvailableSeats < req.SeatsNeeded {
		return cur, nil, ErrPoolFull
	}

	p := cur.clone()
	n := len(p.ActiveParticipants())
	p.Participants = append(p.Participants, newParticipant(req, n+1, n+1, now))
	p.UpdatedAt = now

	evts := []events.Event{joinedEvent(p.ID, req, now)}
	return m.settle(p, evts, now)
}

// Leave withdraws a student before a driver is assigned. The last student out
// cancels the pool; anyone else is dropped from the list and the remaining
// visiting orders are renumbered.
func (m *Machine) Leave(cur PoolRide, studentID types.ID, now time.Time) (PoolRide, []events.Event, error) {
	if !cur.Status.Open() {
		return cur, nil, fmt.Errorf("%w: cannot leave a %s pool", types.ErrInvalidTransition, cur.Status)
	}
	idx := cur.participantIndex(studentID)
	if idx < 0 {
		return cur, nil, ErrNotParticipant
	}

	p := cur.clone()
	p.UpdatedAt = now
	left := events.New(events.ParticipantLeft, events.SubjectPool, p.ID, []types.ID{studentID}, nil, now)

	if len(p.ActiveParticipants()) == 1 {
		p.Participants[idx].Status = ParticipantCancelled
		return m.cancel(p, "all participants withdrew", []events.Event{left}, now)
	}

	p.Participants = append(p.Participants[:idx], p.Participants[idx+1:]...)
	renumber(p.Participants)
	return m.settle(p, []events.Event{left}, now)
}

// AssignDriver moves a READY pool to DRIVER_ASSIGNED and freezes its
// participants. Optional sequences from the driver override the visiting order.
func (m *Machine) AssignDriver(cur PoolRide, a DriverAssignment, pickupSeq, dropoffSeq []types.ID, now time.Time) (PoolRide, []events.Event, error) {
	if !CanTransition(cur.Status, StatusDriverAssigned) {
		return cur, nil, fmt.Errorf("%w: cannot assign driver to a %s pool", types.ErrInvalidTransition, cur.Status)
	}
	if !now.Before(cur.ExpiresAt) {
		return cur, nil, ErrPoolClosed
	}
	if a.DriverID == "" || a.BookingID == "" {
		return cur, nil, fmt.Errorf("%w: driver id and booking id are required", types.ErrInvalidInput)
	}

	p := cur.clone()
	if len(pickupSeq) > 0 {
		if err := applySequence(p.Participants, pickupSeq, func(pt *Participant, n int) { pt.PickupOrder = n }); err != nil {
			return cur, nil, err
		}
	}
	if len(dropoffSeq) > 0 {
		if err := applySequence(p.Participants, dropoffSeq, func(pt *Participant, n int) { pt.DropoffOrder = n }); err != nil {
			return cur, nil, err
		}
	}
	for i := range p.Participants {
		if p.Participants[i].Status == ParticipantJoined {
			p.Participants[i].Status = ParticipantConfirmed
		}
	}
	p.Driver = &a
	p.Status = StatusDriverAssigned
	p.UpdatedAt = now

	recipients := append(p.ActiveStudentIDs(), a.DriverID)
	evt := events.New(events.DriverAssigned, events.SubjectPool, p.ID, recipients, map[string]string{
		"driver_id":      string(a.DriverID),
		"driver_name":    a.DriverName,
		"vehicle_number": a.VehicleNumber,
		"booking_id":     a.BookingID,
	}, now)
	return m.finish(cur, p, []events.Event{evt})
}

func (m *Machine) StartPickup(cur PoolRide, driverID types.ID, now time.Time) (PoolRide, []events.Event, error) {
	if err := m.guardDriverStep(cur, driverID, StatusPickupInProgress); err != nil {
		return cur, nil, err
	}
	p := cur.clone()
	p.Status = StatusPickupInProgress
	p.UpdatedAt = now

	data := map[string]string{}
	if next, ok := nextStop(p.Participants, ParticipantConfirmed, func(pt Participant) int { return pt.PickupOrder }); ok {
		data["next_student_id"] = string(p.Participants[next].StudentID)
	}
	evt := events.New(events.PickupStarted, events.SubjectPool, p.ID, p.ActiveStudentIDs(), data, now)
	return m.finish(cur, p, []events.Event{evt})
}

// MarkPickedUp records the next pickup in pickupOrder. The last pickup starts the ride.
func (m *Machine) MarkPickedUp(cur PoolRide, driverID, studentID types.ID, now time.Time) (PoolRide, []events.Event, error) {
	if cur.Status != StatusPickupInProgress {
		return cur, nil, fmt.Errorf("%w: pickups require PICKUP_IN_PROGRESS, pool is %s", types.ErrInvalidTransition, cur.Status)
	}
	if err := checkDriver(cur, driverID); err != nil {
		return cur, nil, err
	}
	p := cur.clone()
	if err := advanceStop(p.Participants, studentID, ParticipantConfirmed, ParticipantPickedUp, func(pt Participant) int { return pt.PickupOrder }); err != nil {
		return cur, nil, err
	}
	p.UpdatedAt = now

	evts := []events.Event{events.New(events.ParticipantPickedUp, events.SubjectPool, p.ID, []types.ID{studentID}, nil, now)}
	if _, more := nextStop(p.Participants, ParticipantConfirmed, func(pt Participant) int { return pt.PickupOrder }); !more {
		p.Status = StatusInProgress
		evts = append(evts, events.New(events.RideStarted, events.SubjectPool, p.ID, p.ActiveStudentIDs(), nil, now))
	}
	return m.finish(cur, p, evts)
}

// MarkDroppedOff records the next dropoff in dropoffOrder. The last dropoff completes the ride.
func (m *Machine) MarkDroppedOff(cur PoolRide, driverID, studentID types.ID, now time.Time) (PoolRide, []events.Event, error) {
	if cur.Status != StatusInProgress {
		return cur, nil, fmt.Errorf("%w: dropoffs require IN_PROGRESS, pool is %s", types.ErrInvalidTransition, cur.Status)
	}
	if err := checkDriver(cur, driverID); err != nil {
		return cur, nil, err
	}
	p := cur.clone()
	if err := advanceStop(p.Participants, studentID, ParticipantPickedUp, ParticipantDroppedOff, func(pt Participant) int { return pt.DropoffOrder }); err != nil {
		return cur, nil, err
	}
	p.UpdatedAt = now

	evts := []events.Event{events.New(events.ParticipantDroppedOff, events.SubjectPool, p.ID, []types.ID{studentID}, nil, now)}
	if _, more := nextStop(p.Participants, ParticipantPickedUp, func(pt Participant) int { return pt.DropoffOrder }); !more {
		p.Status = StatusCompleted
		recipients := p.ActiveStudentIDs()
		if p.Driver != nil {
			recipients = append(recipients, p.Driver.DriverID)
		}
		res, err := fare.ComputePoolFare(p.BaseFare, p.OccupiedSeats, m.cfg)
		data := map[string]string{}
		if err == nil {
			data["driver_earning"] = strconv.FormatFloat(res.DriverEarning, 'f', 2, 64)
			data["total_pool_fare"] = strconv.FormatFloat(res.TotalPoolFare, 'f', 2, 64)
		}
		evts = append(evts, events.New(events.RideCompleted, events.SubjectPool, p.ID, recipients, data, now))
	}
	return m.finish(cur, p, evts)
}

// Cancel cancels a pool that has no driver yet.
func (m *Machine) Cancel(cur PoolRide, reason string, now time.Time) (PoolRide, []events.Event, error) {
	if !CanTransition(cur.Status, StatusCancelled) {
		return cur, nil, fmt.Errorf("%w: cannot cancel a %s pool", types.ErrInvalidTransition, cur.Status)
	}
	if reason == "" {
		reason = "cancelled"
	}
	p := cur.clone()
	p.UpdatedAt = now
	return m.cancel(p, reason, nil, now)
}

// Expire closes a WAITING or READY pool whose expiresAt has passed. Anything
// else, including an already expired pool, is a no-op reported by ok=false.
func (m *Machine) Expire(cur PoolRide, now time.Time) (next PoolRide, evts []events.Event, ok bool) {
	if !cur.Status.Open() || now.Before(cur.ExpiresAt) {
		return cur, nil, false
	}
	p := cur.clone()
	reason := "no_match"
	if p.Status == StatusReady {
		reason = "no_driver"
	}
	p.Status = StatusExpired
	p.UpdatedAt = now
	evt := events.New(events.PoolExpired, events.SubjectPool, p.ID, p.ActiveStudentIDs(), map[string]string{
		"reason": reason,
	}, now)
	return p, []events.Event{evt}, true
}

func (m *Machine) cancel(p PoolRide, reason string, evts []events.Event, now time.Time) (PoolRide, []events.Event, error) {
	recipients := p.ActiveStudentIDs()
	for i := range p.Participants {
		p.Participants[i].Status = ParticipantCancelled
	}
	p.Status = StatusCancelled
	p.CancelReason = &reason
	p.OccupiedSeats = 0
	p.AvailableSeats = p.MaxSeats
	evts = append(evts, events.New(events.PoolCancelled, events.SubjectPool, p.ID, recipients, map[string]string{
		"reason": reason,
	}, now))
	if err := m.checkInvariants(p); err != nil {
		return PoolRide{}, nil, err
	}
	return p, evts, nil
}

// settle recomputes seats, fares and centroids for an open pool and applies the
// WAITING/READY threshold rule.
func (m *Machine) settle(p PoolRide, evts []events.Event, now time.Time) (PoolRide, []events.Event, error) {
	if err := m.recompute(&p); err != nil {
		return PoolRide{}, nil, err
	}

	switch {
	case p.Status == StatusWaiting && p.OccupiedSeats >= m.cfg.MinParticipants:
		p.Status = StatusReady
		if t := now.Add(m.cfg.DriverSearchWindow); t.After(p.ExpiresAt) {
			p.ExpiresAt = t
		}
		evts = append(evts, events.New(events.PoolReady, events.SubjectPool, p.ID, p.ActiveStudentIDs(), map[string]string{
			"fare_per_seat": strconv.FormatFloat(p.FarePerSeat, 'f', 2, 64),
			"pickup_lat":    strconv.FormatFloat(p.Route.Pickup.Lat, 'f', 6, 64),
			"pickup_lng":    strconv.FormatFloat(p.Route.Pickup.Lng, 'f', 6, 64),
			"seats":         strconv.Itoa(p.OccupiedSeats),
		}, now))
	case p.Status == StatusReady && p.OccupiedSeats < m.cfg.MinParticipants:
		p.Status = StatusWaiting
		evts = append(evts, events.New(events.PoolReopened, events.SubjectPool, p.ID, p.ActiveStudentIDs(), nil, now))
	}

	if err := m.checkInvariants(p); err != nil {
		return PoolRide{}, nil, err
	}
	return p, evts, nil
}

func (m *Machine) finish(cur, p PoolRide, evts []events.Event) (PoolRide, []events.Event, error) {
	if err := m.checkInvariants(p); err != nil {
		return cur, nil, err
	}
	return p, evts, nil
}

func (m *Machine) recompute(p *PoolRide) error {
	occupied := 0
	base := 0.0
	pickups := make([]types.Point, 0, len(p.Participants))
	drops := make([]types.Point, 0, len(p.Participants))
	for _, pt := range p.Participants {
		if !pt.Active() {
			continue
		}
		occupied += pt.SeatsNeeded
		base = math.Max(base, pt.SoloFare)
		pickups = append(pickups, pt.Pickup)
		drops = append(drops, pt.Drop)
	}
	if occupied > p.MaxSeats {
		return fmt.Errorf("%w: %d seats occupied of %d", ErrPoolFull, occupied, p.MaxSeats)
	}

	p.OccupiedSeats = occupied
	p.AvailableSeats = p.MaxSeats - occupied
	if occupied == 0 {
		return nil
	}

	res, err := fare.ComputePoolFare(base, occupied, m.cfg)
	if err != nil {
		return err
	}
	p.BaseFare = res.BaseFare
	p.FarePerSeat = res.FarePerSeat
	p.Route.Pickup = geo.Centroid(pickups)
	p.Route.Drop = geo.Centroid(drops)
	for i := range p.Participants {
		if !p.Participants[i].Active() {
			continue
		}
		p.Participants[i].FarePerSeat = res.FarePerSeat
		p.Participants[i].TotalFare = types.RoundMoney(res.FarePerSeat * float64(p.Participants[i].SeatsNeeded))
	}
	return nil
}

func (m *Machine) checkInvariants(p PoolRide) error {
	occupied := 0
	var pickups, dropoffs []int
	for _, pt := range p.Participants {
		if !pt.Active() {
			continue
		}
		occupied += pt.SeatsNeeded
		pickups = append(pickups, pt.PickupOrder)
		dropoffs = append(dropoffs, pt.DropoffOrder)
	}
	switch {
	case p.OccupiedSeats != occupied:
		return fmt.Errorf("%w: occupied seats %d != %d", errInvariant, p.OccupiedSeats, occupied)
	case p.OccupiedSeats+p.AvailableSeats != p.MaxSeats:
		return fmt.Errorf("%w: seats %d+%d != %d", errInvariant, p.OccupiedSeats, p.AvailableSeats, p.MaxSeats)
	case p.AvailableSeats < 0:
		return fmt.Errorf("%w: negative available seats", errInvariant)
	case len(p.Participants) > p.MaxSeats:
		return fmt.Errorf("%w: %d participants for %d seats", errInvariant, len(p.Participants), p.MaxSeats)
	case !isPermutation(pickups) || !isPermutation(dropoffs):
		return fmt.Errorf("%w: visiting order is not a permutation", errInvariant)
	case p.Status.Assigned() && p.Driver == nil:
		return fmt.Errorf("%w: %s pool without driver", errInvariant, p.Status)
	}
	return nil
}

func (m *Machine) guardDriverStep(cur PoolRide, driverID types.ID, to Status) error {
	if !CanTransition(cur.Status, to) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, cur.Status, to)
	}
	return checkDriver(cur, driverID)
}

func checkDriver(p PoolRide, driverID types.ID) error {
	if p.Driver == nil || p.Driver.DriverID != driverID {
		return ErrWrongDriver
	}
	return nil
}

func newParticipant(req SearchRequest, pickupOrder, dropoffOrder int, now time.Time) Participant {
	return Participant{
		StudentID:    req.StudentID,
		StudentName:  req.StudentName,
		Pickup:       req.Pickup,
		Drop:         req.Drop,
		PickupLabel:  req.PickupLabel,
		DropLabel:    req.DropLabel,
		SeatsNeeded:  req.SeatsNeeded,
		SoloFare:     types.RoundMoney(req.SoloFare),
		Status:       ParticipantJoined,
		PickupOrder:  pickupOrder,
		DropoffOrder: dropoffOrder,
		JoinedAt:     now,
	}
}

func joinedEvent(poolID types.ID, req SearchRequest, now time.Time) events.Event {
	return events.New(events.ParticipantJoined, events.SubjectPool, poolID, []types.ID{req.StudentID}, map[string]string{
		"seats_needed": strconv.Itoa(req.SeatsNeeded),
	}, now)
}

func routeLabel(req SearchRequest) string {
	if req.PickupLabel == "" && req.DropLabel == "" {
		return ""
	}
	return req.PickupLabel + " -> " + req.DropLabel
}

// renumber compacts pickup and dropoff orders to 1..N, keeping relative order.
func renumber(pts []Participant) {
	idx := make([]int, len(pts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pts[idx[a]].PickupOrder < pts[idx[b]].PickupOrder })
	for n, i := range idx {
		pts[i].PickupOrder = n + 1
	}
	sort.SliceStable(idx, func(a, b int) bool { return pts[idx[a]].DropoffOrder < pts[idx[b]].DropoffOrder })
	for n, i := range idx {
		pts[i].DropoffOrder = n + 1
	}
}

func applySequence(pts []Participant, seq []types.ID, set func(*Participant, int)) error {
	active := 0
	for _, pt := range pts {
		if pt.Active() {
			active++
		}
	}
	if len(seq) != active {
		return fmt.Errorf("%w: sequence has %d students, pool has %d", types.ErrInvalidInput, len(seq), active)
	}
	seen := make(map[types.ID]bool, len(seq))
	for n, id := range seq {
		if seen[id] {
			return fmt.Errorf("%w: student %s listed twice", types.ErrInvalidInput, id)
		}
		seen[id] = true
		found := false
		for i := range pts {
			if pts[i].StudentID == id && pts[i].Active() {
				set(&pts[i], n+1)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNotParticipant, id)
		}
	}
	return nil
}

// nextStop returns the index of the participant in status with the lowest order.
func nextStop(pts []Participant, status ParticipantStatus, order func(Participant) int) (int, bool) {
	best := -1
	for i, pt := range pts {
		if pt.Status != status {
			continue
		}
		if best < 0 || order(pt) < order(pts[best]) {
			best = i
		}
	}
	return best, best >= 0
}

func advanceStop(pts []Participant, studentID types.ID, from, to ParticipantStatus, order func(Participant) int) error {
	for _, pt := range pts {
		if pt.StudentID == studentID && pt.Status == to {
			return fmt.Errorf("%w: %s is already %s", ErrStopRecorded, studentID, to)
		}
	}
	next, ok := nextStop(pts, from, order)
	if !ok {
		return fmt.Errorf("%w: no participant awaiting this stop", types.ErrInvalidTransition)
	}
	if pts[next].StudentID != studentID {
		for _, pt := range pts {
			if pt.StudentID == studentID && pt.Active() {
				return fmt.Errorf("%w: expected %s before %s", ErrOutOfOrder, pts[next].StudentID, studentID)
			}
		}
		return ErrNotParticipant
	}
	pts[next].Status = to
	return nil
}

func isPermutation(orders []int) bool {
	seen := make([]bool, len(orders)+1)
	for _, o := range orders {
		if o < 1 || o > len(orders) || seen[o] {
			return false
		}
		seen[o] = true
	}
	return true
}
