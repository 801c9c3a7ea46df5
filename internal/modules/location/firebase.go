// Package location reads and writes driver presence in Firebase RTDB: who is
// online near a pool, and where their devices can be reached.
package location

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"

	"poolride/internal/geo"
	"poolride/internal/types"
)

const (
	driverLocationsNode = "driver_locations"
	deviceTokensNode    = "device_tokens"

	statusOnline  = "online"
	statusOffline = "offline"
)

// rtdbDriverEntry mirrors /driver_locations/{driverID}. The driver app writes
// lat/lng; the server owns status.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
}

// DriverLocation is an online driver with the distance from the queried point.
type DriverLocation struct {
	DriverID types.ID
	Position types.Point
	Distance float64 // km
}

// FirebaseService is backed by the RTDB client of an initialised Firebase app.
type FirebaseService struct {
	dbClient *db.Client
}

func NewFirebaseService(ctx context.Context, app *firebase.App) (*FirebaseService, error) {
	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return &FirebaseService{dbClient: dbClient}, nil
}

// NearbyDrivers returns online drivers within radiusKm of at, closest first.
func (s *FirebaseService) NearbyDrivers(ctx context.Context, at types.Point, radiusKm float64) ([]DriverLocation, error) {
	var data map[string]rtdbDriverEntry
	if err := s.dbClient.NewRef(driverLocationsNode).OrderByChild("status").EqualTo(statusOnline).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying online drivers: %w", err)
	}
	return nearby(data, at, radiusKm), nil
}

// SetAvailability records the server-side online flag for a driver.
func (s *FirebaseService) SetAvailability(ctx context.Context, driverID types.ID, online bool) error {
	status := statusOffline
	if online {
		status = statusOnline
	}
	ref := s.dbClient.NewRef(driverLocationsNode + "/" + string(driverID))
	return ref.Update(ctx, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	})
}

// DeviceTokens resolves FCM registration tokens for the given users. Users
// without a registered device are left out.
func (s *FirebaseService) DeviceTokens(ctx context.Context, uids []types.ID) (map[types.ID]string, error) {
	out := make(map[types.ID]string, len(uids))
	for _, uid := range uids {
		var token string
		if err := s.dbClient.NewRef(deviceTokensNode+"/"+string(uid)).Get(ctx, &token); err != nil {
			return nil, fmt.Errorf("reading device token of %s: %w", uid, err)
		}
		if token != "" {
			out[uid] = token
		}
	}
	return out, nil
}

func nearby(data map[string]rtdbDriverEntry, at types.Point, radiusKm float64) []DriverLocation {
	var result []DriverLocation
	for driverID, entry := range data {
		if entry.Status != statusOnline {
			continue
		}
		pos := types.Point{Lat: entry.Lat, Lng: entry.Lng}
		dist := geo.HaversineKm(at, pos)
		if dist <= radiusKm {
			result = append(result, DriverLocation{DriverID: types.ID(driverID), Position: pos, Distance: dist})
		}
	}
	geo.SortByDistance(result, func(d DriverLocation) float64 { return d.Distance })
	return result
}
