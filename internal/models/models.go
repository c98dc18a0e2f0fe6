package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a coordinate plus its human-readable address.
type Place struct {
	Coord
	Address string `json:"address,omitempty"`
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

type VehicleClass string

const (
	ClassCar  VehicleClass = "car"
	ClassBike VehicleClass = "bike"
	ClassAuto VehicleClass = "auto"
)

type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusAssigned   RideStatus = "assigned"
	StatusArrived    RideStatus = "arrived_at_pickup"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DriverSnapshot is the driver/vehicle descriptor embedded in a ride once
// a driver wins the assignment. Reassignment replaces it wholesale.
type DriverSnapshot struct {
	DriverID     string       `json:"driver_id"`
	FullName     string       `json:"full_name"`
	Phone        string       `json:"phone"`
	VehicleName  string       `json:"vehicle_name"`
	VehiclePlate string       `json:"vehicle_plate"`
	VehicleClass VehicleClass `json:"vehicle_class"`
}

type Ride struct {
	ID           string          `json:"id"`
	RiderID      string          `json:"rider_id"`
	Pickup       Place           `json:"pickup"`
	Drop         Place           `json:"drop"`
	VehicleClass VehicleClass    `json:"vehicle_class"`
	Price        float64         `json:"price"`
	Status       RideStatus      `json:"status"`
	OTP          string          `json:"otp,omitempty"`
	Driver       *DriverSnapshot `json:"driver,omitempty"`
	CancelledBy  Role            `json:"cancelled_by,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type RideRequest struct {
	RiderID      string       `json:"rider_id"`
	Pickup       Place        `json:"pickup"`
	Drop         Place        `json:"drop"`
	VehicleClass VehicleClass `json:"vehicle_class"`
}

// Candidate is one nearby available driver returned by the geo index,
// distance in meters from the query point.
type Candidate struct {
	DriverID string  `json:"driver_id"`
	Distance float64 `json:"distance_m"`
	Loc      Coord   `json:"loc"`
}

// DriverLocation is the wire shape for the driver-locations Kafka topic.
type DriverLocation struct {
	DriverID  string       `json:"driver_id"`
	Loc       Coord        `json:"loc"`
	Class     VehicleClass `json:"class,omitempty"`
	Available bool         `json:"available"`
	Timestamp time.Time    `json:"ts"`
}

type Vehicle struct {
	Name  string       `json:"name"`
	Plate string       `json:"plate"`
	Class VehicleClass `json:"class"`
}
