package main

import (
	"context"

	"poolride/internal/modules/driver"
	"poolride/internal/modules/pool"
	"poolride/internal/types"
)

// driverDirectory lets the pool module resolve assignable drivers without
// importing the driver module.
type driverDirectory struct {
	drivers interface {
		EnsureCanAcceptRides(ctx context.Context, driverID types.ID) (*driver.Profile, error)
	}
}

func (d driverDirectory) Assignable(ctx context.Context, driverID types.ID) (pool.DriverAssignment, error) {
	p, err := d.drivers.EnsureCanAcceptRides(ctx, driverID)
	if err != nil {
		return pool.DriverAssignment{}, err
	}
	return pool.DriverAssignment{
		DriverID:      p.ID,
		DriverName:    p.Name,
		DriverPhone:   p.Phone,
		VehicleNumber: p.Vehicle.VehicleRegistrationNumber,
	}, nil
}
