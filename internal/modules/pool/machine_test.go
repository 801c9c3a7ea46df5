package pool

import (
	"errors"
	"strings"
	"testing"
	"time"

	"poolride/internal/config"
	"poolride/internal/events"
	"poolride/internal/types"
)

var (
	t0          = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	campusGate  = types.Point{Lat: 12.9716, Lng: 77.5946}
	hostelA     = types.Point{Lat: 12.9728, Lng: 77.5952}
	hostelB     = types.Point{Lat: 12.9705, Lng: 77.5939}
	station     = types.Point{Lat: 12.9352, Lng: 77.6245}
	stationExit = types.Point{Lat: 12.9360, Lng: 77.6238}
)

func immediateReq(student string, pickup, drop types.Point) SearchRequest {
	return SearchRequest{
		StudentID:     types.ID(student),
		StudentName:   student,
		Pickup:        pickup,
		Drop:          drop,
		DepartureTime: t0,
		IsImmediate:   true,
		SeatsNeeded:   1,
		DistanceKm:    5.2,
		SoloFare:      100,
	}
}

// poolWith builds a pool through the machine so every fixture satisfies the invariants.
func poolWith(t *testing.T, m *Machine, students ...string) PoolRide {
	t.Helper()
	points := []types.Point{campusGate, hostelA, hostelB}
	p, _, err := m.NewPool("pool-1", immediateReq(students[0], points[0], station), t0)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	for i, s := range students[1:] {
		p, _, err = m.Join(p, immediateReq(s, points[(i+1)%len(points)], stationExit), t0.Add(time.Duration(i+1)*time.Minute))
		if err != nil {
			t.Fatalf("join %s: %v", s, err)
		}
	}
	return p
}

func assignedPool(t *testing.T, m *Machine, students ...string) PoolRide {
	t.Helper()
	p := poolWith(t, m, students...)
	p, _, err := m.AssignDriver(p, DriverAssignment{DriverID: "drv-1", DriverName: "Ravi", VehicleNumber: "KA01AB1234", BookingID: "bk-1"}, nil, nil, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("assign driver: %v", err)
	}
	return p
}

func assertKinds(t *testing.T, evts []events.Event, want ...events.Kind) {
	t.Helper()
	got := events.Kinds(evts)
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", got, want)
		}
	}
}

func TestNewPool_Immediate(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p, evts, err := m.NewPool("pool-1", immediateReq("s1", campusGate, station), t0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if p.Status != StatusWaiting {
		t.Fatalf("status = %s, want WAITING", p.Status)
	}
	if p.OccupiedSeats != 1 || p.AvailableSeats != 2 {
		t.Fatalf("seats = %d/%d, want 1/2", p.OccupiedSeats, p.AvailableSeats)
	}
	if p.FarePerSeat != 100 || p.BaseFare != 100 {
		t.Fatalf("fare = %v base %v, want solo 100", p.FarePerSeat, p.BaseFare)
	}
	if !p.ExpiresAt.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("expiresAt = %v, want +10m", p.ExpiresAt)
	}
	if p.Route.Pickup != campusGate || p.Route.Drop != station {
		t.Fatalf("route = %+v", p.Route)
	}
	if pt := p.Participants[0]; pt.PickupOrder != 1 || pt.DropoffOrder != 1 || pt.Status != ParticipantJoined {
		t.Fatalf("participant = %+v", pt)
	}
	assertKinds(t, evts, events.ParticipantJoined)
}

func TestNewPool_Scheduled(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	req := immediateReq("s1", campusGate, station)
	req.IsImmediate = false
	req.DepartureTime = t0.Add(time.Hour)

	p, _, err := m.NewPool("pool-1", req, t0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if !p.ExpiresAt.Equal(t0.Add(50 * time.Minute)) {
		t.Fatalf("expiresAt = %v, want departure - driver search window", p.ExpiresAt)
	}

	req.DepartureTime = t0.Add(-time.Minute)
	if _, _, err := m.NewPool("pool-2", req, t0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("past departure err = %v, want ErrInvalidRequest", err)
	}
}

func TestJoin_SecondRiderMakesPoolReady(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1")

	joinAt := t0.Add(3 * time.Minute)
	next, evts, err := m.Join(p, immediateReq("s2", hostelA, stationExit), joinAt)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if next.Status != StatusReady {
		t.Fatalf("status = %s, want READY", next.Status)
	}
	if next.OccupiedSeats != 2 || next.AvailableSeats != 1 {
		t.Fatalf("seats = %d/%d, want 2/1", next.OccupiedSeats, next.AvailableSeats)
	}
	if next.FarePerSeat != 32.5 {
		t.Fatalf("farePerSeat = %v, want 32.5", next.FarePerSeat)
	}
	for _, pt := range next.Participants {
		if pt.FarePerSeat != 32.5 || pt.TotalFare != 32.5 {
			t.Fatalf("participant fare = %+v", pt)
		}
	}
	if got := next.Participants[1]; got.PickupOrder != 2 || got.DropoffOrder != 2 {
		t.Fatalf("second participant orders = %d/%d", got.PickupOrder, got.DropoffOrder)
	}
	if !next.ExpiresAt.Equal(joinAt.Add(10 * time.Minute)) {
		t.Fatalf("expiresAt = %v, want READY time + driver search window", next.ExpiresAt)
	}
	assertKinds(t, evts, events.ParticipantJoined, events.PoolReady)

	if p.Status != StatusWaiting || len(p.Participants) != 1 {
		t.Fatalf("input pool mutated: %+v", p)
	}
}

func TestJoin_ThirdRiderFillsPool(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1", "s2", "s3")

	if p.AvailableSeats != 0 || p.OccupiedSeats != 3 {
		t.Fatalf("seats = %d/%d, want 3/0", p.OccupiedSeats, p.AvailableSeats)
	}
	if p.FarePerSeat != 21.67 {
		t.Fatalf("farePerSeat = %v, want 21.67", p.FarePerSeat)
	}

	before := len(p.Participants)
	_, _, err := m.Join(p, immediateReq("s4", campusGate, station), t0.Add(4*time.Minute))
	if !errors.Is(err, ErrPoolFull) || !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrPoolFull", err)
	}
	if len(p.Participants) != before {
		t.Fatal("failed join mutated the pool")
	}
}

func TestJoin_Rejections(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1")

	tooMany := immediateReq("s5", hostelA, station)
	tooMany.SeatsNeeded = 4

	cases := []struct {
		name string
		pool PoolRide
		req  SearchRequest
		at   time.Time
		want error
	}{
		{"duplicate student", p, immediateReq("s1", hostelA, station), t0, ErrAlreadyJoined},
		{"past expiry", p, immediateReq("s2", hostelA, station), p.ExpiresAt, ErrPoolClosed},
		{"too many seats", p, tooMany, t0, ErrInvalidRequest},
		{"assigned pool", assignedPool(t, m, "s1", "s2"), immediateReq("s3", hostelB, station), t0.Add(6 * time.Minute), ErrPoolClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := m.Join(tc.pool, tc.req, tc.at)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestJoin_MultiSeatCountsSeats(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1")
	req := immediateReq("s2", hostelA, station)
	req.SeatsNeeded = 2

	next, _, err := m.Join(p, req, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if next.OccupiedSeats != 3 || next.AvailableSeats != 0 {
		t.Fatalf("seats = %d/%d, want 3/0", next.OccupiedSeats, next.AvailableSeats)
	}
	if next.Participants[1].TotalFare != 43.34 {
		t.Fatalf("two-seat total = %v, want 43.34", next.Participants[1].TotalFare)
	}
}

func TestLeave_ReadyDropsBackToWaiting(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1", "s2")

	next, evts, err := m.Leave(p, "s1", t0.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if next.Status != StatusWaiting {
		t.Fatalf("status = %s, want WAITING", next.Status)
	}
	if len(next.Participants) != 1 || next.Participants[0].StudentID != "s2" {
		t.Fatalf("participants = %+v", next.Participants)
	}
	if pt := next.Participants[0]; pt.PickupOrder != 1 || pt.DropoffOrder != 1 || pt.FarePerSeat != 100 {
		t.Fatalf("remaining participant = %+v", pt)
	}
	if next.Route.Pickup != hostelA {
		t.Fatalf("centroid not recomputed: %+v", next.Route.Pickup)
	}
	assertKinds(t, evts, events.ParticipantLeft, events.PoolReopened)
	if len(p.Participants) != 2 || p.Participants[0].StudentID != "s1" {
		t.Fatal("leave mutated the input pool")
	}
}

func TestLeave_LastParticipantCancels(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1")

	next, evts, err := m.Leave(p, "s1", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if next.Status != StatusCancelled || next.CancelReason == nil {
		t.Fatalf("status = %s reason %v, want CANCELLED with reason", next.Status, next.CancelReason)
	}
	if next.OccupiedSeats != 0 || next.AvailableSeats != next.MaxSeats {
		t.Fatalf("seats = %d/%d", next.OccupiedSeats, next.AvailableSeats)
	}
	assertKinds(t, evts, events.ParticipantLeft, events.PoolCancelled)
}

func TestLeave_Rejections(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	if _, _, err := m.Leave(poolWith(t, m, "s1"), "nobody", t0); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("unknown student err = %v", err)
	}
	if _, _, err := m.Leave(assignedPool(t, m, "s1", "s2"), "s1", t0.Add(6*time.Minute)); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("leave after assignment err = %v", err)
	}
}

func TestRideLifecycle(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1", "s2")

	if _, _, err := m.AssignDriver(poolWith(t, m, "s1"), DriverAssignment{DriverID: "drv-1", BookingID: "bk"}, nil, nil, t0); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("assign on WAITING err = %v", err)
	}

	a := DriverAssignment{DriverID: "drv-1", DriverName: "Ravi", VehicleNumber: "KA01AB1234", BookingID: "bk-1"}
	p, evts, err := m.AssignDriver(p, a, []types.ID{"s2", "s1"}, nil, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("AssignDriver: %v", err)
	}
	if p.Status != StatusDriverAssigned || p.Driver == nil || p.Driver.BookingID != "bk-1" {
		t.Fatalf("assigned pool = %+v", p)
	}
	for _, pt := range p.Participants {
		if pt.Status != ParticipantConfirmed {
			t.Fatalf("participant %s status %s, want CONFIRMED", pt.StudentID, pt.Status)
		}
	}
	assertKinds(t, evts, events.DriverAssigned)
	if got := evts[0].Recipients; len(got) != 3 || got[2] != "drv-1" {
		t.Fatalf("recipients = %v", got)
	}

	if _, _, err := m.StartPickup(p, "drv-2", t0.Add(6*time.Minute)); !errors.Is(err, types.ErrForbidden) {
		t.Fatalf("wrong driver err = %v", err)
	}
	if _, _, err := m.MarkPickedUp(p, "drv-1", "s2", t0.Add(6*time.Minute)); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("pickup before start err = %v", err)
	}

	p, evts, err = m.StartPickup(p, "drv-1", t0.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("StartPickup: %v", err)
	}
	if evts[0].Data["next_student_id"] != "s2" {
		t.Fatalf("first pickup = %q, want s2", evts[0].Data["next_student_id"])
	}

	if _, _, err := m.MarkPickedUp(p, "drv-1", "s1", t0.Add(7*time.Minute)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("out of order pickup err = %v", err)
	}
	p, evts, err = m.MarkPickedUp(p, "drv-1", "s2", t0.Add(7*time.Minute))
	if err != nil {
		t.Fatalf("pickup s2: %v", err)
	}
	assertKinds(t, evts, events.ParticipantPickedUp)
	_, _, err = m.MarkPickedUp(p, "drv-1", "s2", t0.Add(7*time.Minute))
	if !errors.Is(err, ErrStopRecorded) || errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("repeat pickup err = %v, want ErrStopRecorded", err)
	}
	if !errors.Is(err, types.ErrInvalidTransition) || !strings.Contains(err.Error(), "s2 is already PICKED_UP") {
		t.Fatalf("repeat pickup err = %v", err)
	}
	p, evts, err = m.MarkPickedUp(p, "drv-1", "s1", t0.Add(8*time.Minute))
	if err != nil {
		t.Fatalf("pickup s1: %v", err)
	}
	if p.Status != StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", p.Status)
	}
	assertKinds(t, evts, events.ParticipantPickedUp, events.RideStarted)

	if _, _, err := m.Cancel(p, "late", t0.Add(9*time.Minute)); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("cancel in progress err = %v", err)
	}

	p, _, err = m.MarkDroppedOff(p, "drv-1", "s1", t0.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("dropoff s1: %v", err)
	}
	if _, _, err := m.MarkDroppedOff(p, "drv-1", "s1", t0.Add(21*time.Minute)); !errors.Is(err, ErrStopRecorded) {
		t.Fatalf("repeat dropoff err = %v, want ErrStopRecorded", err)
	}
	p, evts, err = m.MarkDroppedOff(p, "drv-1", "s2", t0.Add(22*time.Minute))
	if err != nil {
		t.Fatalf("dropoff s2: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", p.Status)
	}
	assertKinds(t, evts, events.ParticipantDroppedOff, events.RideCompleted)
	if evts[1].Data["driver_earning"] != "110.00" || evts[1].Data["total_pool_fare"] != "65.00" {
		t.Fatalf("completion data = %v", evts[1].Data)
	}
	if len(p.Participants) != 2 || p.OccupiedSeats != 2 {
		t.Fatalf("participants changed after assignment: %+v", p.Participants)
	}
}

func TestAssignDriver_InvalidSequence(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1", "s2")
	a := DriverAssignment{DriverID: "drv-1", BookingID: "bk-1"}

	for _, seq := range [][]types.ID{{"s1"}, {"s1", "s1"}, {"s1", "s9"}} {
		if _, _, err := m.AssignDriver(p, a, seq, nil, t0.Add(5*time.Minute)); err == nil {
			t.Fatalf("sequence %v accepted", seq)
		}
	}
	if p.Participants[0].PickupOrder != 1 || p.Participants[1].PickupOrder != 2 {
		t.Fatal("rejected sequence mutated the input pool")
	}
}

func TestCancel(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	p := poolWith(t, m, "s1", "s2")

	next, evts, err := m.Cancel(p, "admin_cancel", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if next.Status != StatusCancelled || *next.CancelReason != "admin_cancel" {
		t.Fatalf("cancelled pool = %+v", next)
	}
	for _, pt := range next.Participants {
		if pt.Status != ParticipantCancelled {
			t.Fatalf("participant %s status %s", pt.StudentID, pt.Status)
		}
	}
	if got := evts[0].Recipients; len(got) != 2 {
		t.Fatalf("recipients = %v, want both students", got)
	}
	if p.Participants[0].Status != ParticipantJoined {
		t.Fatal("cancel mutated the input pool")
	}
}

func TestExpire(t *testing.T) {
	m := NewMachine(config.DefaultPoolConfig())
	waiting := poolWith(t, m, "s1")
	ready := poolWith(t, m, "s1", "s2")

	if _, _, ok := m.Expire(waiting, waiting.ExpiresAt.Add(-time.Second)); ok {
		t.Fatal("expired before expiresAt")
	}

	expired, evts, ok := m.Expire(waiting, waiting.ExpiresAt)
	if !ok || expired.Status != StatusExpired {
		t.Fatalf("Expire = %s ok=%v, want EXPIRED", expired.Status, ok)
	}
	if evts[0].Data["reason"] != "no_match" {
		t.Fatalf("reason = %q", evts[0].Data["reason"])
	}
	if _, evts, ok := m.Expire(expired, expired.ExpiresAt.Add(time.Hour)); ok || evts != nil {
		t.Fatal("expiring an EXPIRED pool must be a no-op")
	}

	_, evts, ok = m.Expire(ready, ready.ExpiresAt)
	if !ok || evts[0].Data["reason"] != "no_driver" {
		t.Fatalf("ready expiry ok=%v evts=%v", ok, evts)
	}

	assigned := assignedPool(t, m, "s1", "s2")
	if _, _, ok := m.Expire(assigned, assigned.ExpiresAt.Add(time.Hour)); ok {
		t.Fatal("assigned pool must not expire")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusReady, true},
		{StatusReady, StatusWaiting, true},
		{StatusReady, StatusDriverAssigned, true},
		{StatusWaiting, StatusDriverAssigned, false},
		{StatusDriverAssigned, StatusCancelled, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusExpired, false},
		{StatusExpired, StatusWaiting, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
