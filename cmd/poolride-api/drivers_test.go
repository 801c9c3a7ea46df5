package main

import (
	"context"
	"errors"
	"testing"

	"poolride/internal/modules/driver"
	"poolride/internal/types"
)

type fakeEligibility struct {
	profile *driver.Profile
	err     error
}

func (f fakeEligibility) EnsureCanAcceptRides(context.Context, types.ID) (*driver.Profile, error) {
	return f.profile, f.err
}

func TestDriverDirectory_MapsProfile(t *testing.T) {
	d := driverDirectory{drivers: fakeEligibility{profile: &driver.Profile{
		ID:      "drv-1",
		Name:    "Ravi",
		Phone:   "+910000000001",
		Vehicle: driver.VehicleDetails{VehicleRegistrationNumber: "KA01AB1234"},
	}}}
	a, err := d.Assignable(context.Background(), "drv-1")
	if err != nil {
		t.Fatalf("Assignable: %v", err)
	}
	if a.DriverID != "drv-1" || a.DriverName != "Ravi" || a.VehicleNumber != "KA01AB1234" || a.BookingID != "" {
		t.Fatalf("assignment = %+v", a)
	}
}

func TestDriverDirectory_PropagatesIneligible(t *testing.T) {
	d := driverDirectory{drivers: fakeEligibility{err: types.ErrForbidden}}
	if _, err := d.Assignable(context.Background(), "drv-1"); !errors.Is(err, types.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}
