// README: Fare rate and pool fare split definitions.
package fare

// Rate is the solo metered rate for one vehicle type: FlagFare covers the
// first FlagDistanceKm, PerKm applies beyond it.
type Rate struct {
	VehicleType    string
	FlagFare       float64
	FlagDistanceKm float64
	PerKm          float64
	Currency       string
}

// PoolFareResult is the per-seat split of a pooled trip.
type PoolFareResult struct {
	BaseFare         float64 `json:"base_fare"`
	Occupancy        int     `json:"occupancy"`
	FarePerSeat      float64 `json:"fare_per_seat"`
	TotalPoolFare    float64 `json:"total_pool_fare"`
	DriverEarning    float64 `json:"driver_earning"`
	SavingsPerPerson float64 `json:"savings_per_person"`
	DiscountPercent  float64 `json:"discount_percent"`
}

// Quote is a solo fare quote for a single trip.
type Quote struct {
	VehicleType string  `json:"vehicle_type"`
	DistanceKm  float64 `json:"distance_km"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}
