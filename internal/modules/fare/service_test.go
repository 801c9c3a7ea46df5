package fare

import (
	"context"
	"errors"
	"math"
	"testing"

	"poolride/internal/config"
	"poolride/internal/types"
)

func TestComputePoolFare(t *testing.T) {
	cfg := config.DefaultPoolConfig()

	tests := []struct {
		name      string
		baseFare  float64
		occupancy int
		want      PoolFareResult
	}{
		{
			name:      "Solo pool pays base fare, no bonus",
			baseFare:  100,
			occupancy: 1,
			want: PoolFareResult{
				BaseFare: 100, Occupancy: 1,
				FarePerSeat: 100, TotalPoolFare: 100, DriverEarning: 100,
				SavingsPerPerson: 0, DiscountPercent: 0,
			},
		},
		{
			// 100*0.65/2 = 32.50; 100*1.10 = 110.00
			name:      "Two riders split discounted fare",
			baseFare:  100,
			occupancy: 2,
			want: PoolFareResult{
				BaseFare: 100, Occupancy: 2,
				FarePerSeat: 32.5, TotalPoolFare: 65, DriverEarning: 110,
				SavingsPerPerson: 67.5, DiscountPercent: 35,
			},
		},
		{
			// 100*0.65/3 = 21.666.. -> 21.67; total 65.01
			name:      "Three riders round per seat to paise",
			baseFare:  100,
			occupancy: 3,
			want: PoolFareResult{
				BaseFare: 100, Occupancy: 3,
				FarePerSeat: 21.67, TotalPoolFare: 65.01, DriverEarning: 110,
				SavingsPerPerson: 78.33, DiscountPercent: 35,
			},
		},
		{
			// 57*0.65/2 = 18.525: half a paisa rounds up to 18.53
			name:      "Odd base fare",
			baseFare:  57,
			occupancy: 2,
			want: PoolFareResult{
				BaseFare: 57, Occupancy: 2,
				FarePerSeat: 18.53, TotalPoolFare: 37.06, DriverEarning: 62.7,
				SavingsPerPerson: 38.47, DiscountPercent: 35,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputePoolFare(tt.baseFare, tt.occupancy, cfg)
			if err != nil {
				t.Fatalf("ComputePoolFare() error = %v", err)
			}
			assertMoney(t, "FarePerSeat", got.FarePerSeat, tt.want.FarePerSeat)
			assertMoney(t, "DriverEarning", got.DriverEarning, tt.want.DriverEarning)
			assertMoney(t, "DiscountPercent", got.DiscountPercent, tt.want.DiscountPercent)
			if tt.want.TotalPoolFare != 0 {
				assertMoney(t, "TotalPoolFare", got.TotalPoolFare, tt.want.TotalPoolFare)
				assertMoney(t, "SavingsPerPerson", got.SavingsPerPerson, tt.want.SavingsPerPerson)
			}
			if got.Occupancy != tt.occupancy || got.BaseFare != tt.baseFare {
				t.Errorf("result echoes %v/%d, want %v/%d", got.BaseFare, got.Occupancy, tt.baseFare, tt.occupancy)
			}
		})
	}
}

func TestComputePoolFare_Properties(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	for _, base := range []float64{1, 17.5, 45, 100, 233.33} {
		prev := math.Inf(1)
		for occ := 1; occ <= cfg.MaxSeats; occ++ {
			res, err := ComputePoolFare(base, occ, cfg)
			if err != nil {
				t.Fatalf("base=%v occ=%d: %v", base, occ, err)
			}
			if res.FarePerSeat >= prev {
				t.Errorf("base=%v: fare per seat not decreasing at occupancy %d (%v >= %v)", base, occ, res.FarePerSeat, prev)
			}
			prev = res.FarePerSeat
			if occ == 1 && res.FarePerSeat != types.RoundMoney(base) {
				t.Errorf("base=%v: solo fare per seat = %v, want base", base, res.FarePerSeat)
			}
			if occ > 1 && res.FarePerSeat*float64(occ) >= base {
				t.Errorf("base=%v occ=%d: pooled total %v not below base", base, occ, res.FarePerSeat*float64(occ))
			}
		}
	}
}

func TestComputePoolFare_InvalidInput(t *testing.T) {
	cfg := config.DefaultPoolConfig()
	cases := []struct {
		base float64
		occ  int
	}{
		{0, 1}, {-10, 2}, {math.NaN(), 2}, {100, 0}, {100, 4}, {100, -1},
	}
	for _, c := range cases {
		if _, err := ComputePoolFare(c.base, c.occ, cfg); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("ComputePoolFare(%v, %d) error = %v, want ErrInvalidInput", c.base, c.occ, err)
		}
	}
}

type stubRateStore struct {
	rate Rate
	err  error
}

func (s stubRateStore) GetRate(context.Context, string) (Rate, error) { return s.rate, s.err }

func TestService_SoloFare(t *testing.T) {
	ctx := context.Background()
	fallback := config.DefaultFareConfig() // 30 flag for 1.5km, 15/km after

	tests := []struct {
		name     string
		store    RateStore
		distance float64
		want     float64
	}{
		{"flag fare only", nil, 1.0, 30},
		{"metered beyond flag", nil, 4.5, 30 + 3*15},
		{"missing rate row uses fallback", stubRateStore{err: types.ErrNotFound}, 2.5, 45},
		{"store error uses fallback", stubRateStore{err: errors.New("db down")}, 2.5, 45},
		{
			name:     "stored rate wins",
			store:    stubRateStore{rate: Rate{VehicleType: "auto", FlagFare: 25, FlagDistanceKm: 2, PerKm: 10, Currency: "INR"}},
			distance: 3.25,
			want:     25 + 12.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.store, fallback, nil)
			q, err := svc.SoloFare(ctx, tt.distance)
			if err != nil {
				t.Fatalf("SoloFare() error = %v", err)
			}
			assertMoney(t, "Amount", q.Amount, tt.want)
			if q.Currency != types.Currency {
				t.Errorf("Currency = %q, want %q", q.Currency, types.Currency)
			}
		})
	}

	if _, err := NewService(nil, fallback, nil).SoloFare(ctx, -1); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("negative distance error = %v, want ErrInvalidInput", err)
	}
}

func assertMoney(t *testing.T, field string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 0.005 {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}
