// README: Pool matcher ranks open pools against a student's search request.
package pool

import (
	"math"
	"sort"
	"time"

	"poolride/internal/config"
	"poolride/internal/geo"
	"poolride/internal/modules/fare"
	"poolride/internal/types"
)

// Matcher is stateless apart from its configuration and safe for concurrent use.
type Matcher struct {
	cfg config.PoolConfig
}

func NewMatcher(cfg config.PoolConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// FindMatches returns the compatible pools for req, best score first. Ties go to
// the older pool, then to the lower pool ID. An empty result means the caller
// should open a new pool.
func (m *Matcher) FindMatches(req SearchRequest, open []PoolRide, now time.Time) ([]Match, error) {
	if err := req.Validate(m.cfg); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(open))
	for _, p := range open {
		match, ok := m.evaluate(req, p, now)
		if ok {
			matches = append(matches, match)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if !a.PoolCreatedAt.Equal(b.PoolCreatedAt) {
			return a.PoolCreatedAt.Before(b.PoolCreatedAt)
		}
		return a.PoolID < b.PoolID
	})
	return matches, nil
}

func (m *Matcher) evaluate(req SearchRequest, p PoolRide, now time.Time) (Match, bool) {
	if p.Status != StatusWaiting || !now.Before(p.ExpiresAt) {
		return Match{}, false
	}
	if p.AvailableSeats < req.SeatsNeeded || p.HasActiveParticipant(req.StudentID) {
		return Match{}, false
	}

	radius := m.radius(p)
	pickupDev := geo.HaversineKm(req.Pickup, p.Route.Pickup)
	dropDev := geo.HaversineKm(req.Drop, p.Route.Drop)
	if pickupDev > radius || dropDev > radius {
		return Match{}, false
	}

	bothImmediate := req.IsImmediate && p.IsImmediate
	diff := departureOf(req.IsImmediate, req.DepartureTime, now).Sub(departureOf(p.IsImmediate, p.DepartureTime, now))
	if diff < 0 {
		diff = -diff
	}
	if !bothImmediate && diff > m.cfg.DepartureTolerance {
		return Match{}, false
	}

	occupancy := p.OccupiedSeats + req.SeatsNeeded
	base := math.Max(p.BaseFare, req.SoloFare)
	res, err := fare.ComputePoolFare(base, occupancy, m.cfg)
	if err != nil {
		return Match{}, false
	}
	estimated := types.RoundMoney(res.FarePerSeat * float64(req.SeatsNeeded))

	return Match{
		PoolID:             p.ID,
		PoolVersion:        p.Version,
		RouteLabel:         p.Route.Label,
		MatchScore:         m.score(pickupDev, dropDev, radius, diff, bothImmediate, occupancy, p.MaxSeats),
		PickupDeviationKm:  round3(pickupDev),
		DropDeviationKm:    round3(dropDev),
		TimeDifferenceSec:  int64(diff / time.Second),
		ResultingOccupancy: occupancy,
		FarePerSeat:        res.FarePerSeat,
		EstimatedFare:      estimated,
		EstimatedSavings:   types.RoundMoney(req.SoloFare - estimated),
		DepartureTime:      p.DepartureTime,
		PoolCreatedAt:      p.CreatedAt,
	}, true
}

// radius is the pool's own match radius, clamped to the configured ceiling.
func (m *Matcher) radius(p PoolRide) float64 {
	r := p.MatchRadiusKm
	if r <= 0 {
		r = m.cfg.MatchRadiusKm
	}
	return math.Min(r, m.cfg.MaxMatchRadiusKm)
}

func (m *Matcher) score(pickupDev, dropDev, radius float64, diff time.Duration, bothImmediate bool, occupancy, maxSeats int) float64 {
	distScore := clamp01(1 - (pickupDev+dropDev)/(2*radius))

	timeScore := 1.0
	if !bothImmediate {
		timeScore = clamp01(1 - float64(diff)/float64(m.cfg.DepartureTolerance))
	}

	occScore := 0.0
	if maxSeats > 0 {
		occScore = clamp01(float64(occupancy) / float64(maxSeats))
	}

	w := m.cfg.Weights
	total := w.Distance + w.Time + w.Occupancy
	if total <= 0 {
		return 0
	}
	s := 100 * (w.Distance*distScore + w.Time*timeScore + w.Occupancy*occScore) / total
	return math.Round(s*100) / 100
}

// departureOf treats an immediate ride as leaving now.
func departureOf(immediate bool, t, now time.Time) time.Time {
	if immediate || t.IsZero() {
		return now
	}
	return t
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
