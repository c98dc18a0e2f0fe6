package ride

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// Guard violation errors. Handlers map these onto the HTTP surface; the
// dispatch engine uses ErrAlreadyAssigned to settle the acceptance race.
var (
	ErrNotFound          = errors.New("ride not found")
	ErrAlreadyAssigned   = errors.New("ride already assigned")
	ErrInvalidTransition = errors.New("invalid ride transition")
	ErrTerminalState     = errors.New("ride in terminal state")
	ErrOtpMismatch       = errors.New("otp mismatch")
	ErrNotRideDriver     = errors.New("driver not assigned to this ride")
	ErrNotRideParty      = errors.New("party not on this ride")
)

// Store persists rides. Every transition method is a conditional update:
// it succeeds only if the ride is still in a state the transition is legal
// from, and that check-and-set is atomic per ride. This is the single
// serialization point for the assignment race.
type Store interface {
	Create(ctx context.Context, r *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)

	// CurrentForParty returns the most recent ride the party is involved
	// in, in any state, for "what is my ride" pulls after reconnect.
	CurrentForParty(ctx context.Context, partyID string) (*models.Ride, error)

	// ActiveForDriver returns the driver's ride in assigned, arrived or
	// in-progress state, if any. A driver has at most one.
	ActiveForDriver(ctx context.Context, driverID string) (*models.Ride, error)

	// Assign performs pending -> assigned, stamping the driver snapshot
	// and OTP. Fails with ErrAlreadyAssigned if the ride left pending.
	Assign(ctx context.Context, rideID string, snap models.DriverSnapshot, otp string) (*models.Ride, error)

	// MarkArrived performs assigned -> arrived_at_pickup. Repeating the
	// call once arrived is a no-op success.
	MarkArrived(ctx context.Context, rideID, driverID string) (*models.Ride, error)

	// Start performs assigned|arrived_at_pickup -> in_progress when the
	// presented OTP matches. The OTP is consumed on success.
	Start(ctx context.Context, rideID, driverID, otp string) (*models.Ride, error)

	// Complete performs in_progress -> completed.
	Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error)

	// Cancel performs pending|assigned -> cancelled, recording who
	// cancelled and why. partyID must be the rider or the assigned
	// driver; anyone else gets ErrNotRideParty.
	Cancel(ctx context.Context, rideID string, by models.Role, partyID, reason string) (*models.Ride, error)
}

// guardAssign classifies why an assignment could not proceed.
func guardAssign(r *models.Ride) error {
	if r.Status.Terminal() {
		return ErrTerminalState
	}
	if r.Status != models.StatusPending {
		return ErrAlreadyAssigned
	}
	return nil
}

func guardDriver(r *models.Ride, driverID string) error {
	if r.Driver == nil || r.Driver.DriverID != driverID {
		return ErrNotRideDriver
	}
	return nil
}

func guardArrived(r *models.Ride, driverID string) error {
	if err := guardDriver(r, driverID); err != nil {
		return err
	}
	if r.Status.Terminal() {
		return ErrTerminalState
	}
	switch r.Status {
	case models.StatusArrived:
		return nil // idempotent
	case models.StatusAssigned:
		return nil
	default:
		return ErrInvalidTransition
	}
}

func guardStart(r *models.Ride, driverID, otp string) error {
	if err := guardDriver(r, driverID); err != nil {
		return err
	}
	if r.Status.Terminal() {
		return ErrTerminalState
	}
	if r.Status != models.StatusAssigned && r.Status != models.StatusArrived {
		return ErrInvalidTransition
	}
	if r.OTP == "" || r.OTP != otp {
		return ErrOtpMismatch
	}
	return nil
}

func guardComplete(r *models.Ride, driverID string) error {
	if err := guardDriver(r, driverID); err != nil {
		return err
	}
	if r.Status.Terminal() {
		return ErrTerminalState
	}
	if r.Status != models.StatusInProgress {
		return ErrInvalidTransition
	}
	return nil
}

func guardCancel(r *models.Ride, partyID string) error {
	if r.RiderID != partyID && (r.Driver == nil || r.Driver.DriverID != partyID) {
		return ErrNotRideParty
	}
	if r.Status.Terminal() {
		return ErrTerminalState
	}
	if r.Status != models.StatusPending && r.Status != models.StatusAssigned {
		return ErrInvalidTransition
	}
	return nil
}
