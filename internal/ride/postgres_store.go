package ride

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore is the durable ride store. Transitions are expressed as
// UPDATE ... WHERE status IN (...); RowsAffected == 0 means the guard
// lost, and a follow-up read classifies the failure for the caller.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, rider_id, pickup_lat, pickup_lon, pickup_addr,
	drop_lat, drop_lon, drop_addr, vehicle_class, price, status, otp,
	driver_id, driver_name, driver_phone, vehicle_name, vehicle_plate,
	cancelled_by, cancel_reason, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides(id, rider_id, pickup_lat, pickup_lon, pickup_addr,
			drop_lat, drop_lon, drop_addr, vehicle_class, price, status,
			created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lon, r.Pickup.Address,
		r.Drop.Lat, r.Drop.Lon, r.Drop.Address, r.VehicleClass, r.Price,
		r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) CurrentForParty(ctx context.Context, partyID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides
		 WHERE rider_id=$1 OR driver_id=$1
		 ORDER BY created_at DESC LIMIT 1`, partyID)
	return scanRide(row)
}

func (p *PostgresStore) ActiveForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides
		 WHERE driver_id=$1 AND status IN ($2,$3,$4)
		 ORDER BY created_at DESC LIMIT 1`,
		driverID, models.StatusAssigned, models.StatusArrived, models.StatusInProgress)
	return scanRide(row)
}

func (p *PostgresStore) Assign(ctx context.Context, rideID string, snap models.DriverSnapshot, otp string) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, otp=$2, driver_id=$3, driver_name=$4,
			driver_phone=$5, vehicle_name=$6, vehicle_plate=$7, updated_at=$8
		 WHERE id=$9 AND status=$10`,
		models.StatusAssigned, otp, snap.DriverID, snap.FullName, snap.Phone,
		snap.VehicleName, snap.VehiclePlate, time.Now(), rideID, models.StatusPending)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.classify(ctx, rideID, func(r *models.Ride) error { return guardAssign(r) })
	}
	return p.Get(ctx, rideID)
}

func (p *PostgresStore) MarkArrived(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, updated_at=$2
		 WHERE id=$3 AND driver_id=$4 AND status=$5`,
		models.StatusArrived, time.Now(), rideID, driverID, models.StatusAssigned)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already arrived (no-op success) or a real guard failure.
		return p.classify(ctx, rideID, func(r *models.Ride) error { return guardArrived(r, driverID) })
	}
	return p.Get(ctx, rideID)
}

func (p *PostgresStore) Start(ctx context.Context, rideID, driverID, otp string) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, otp='', updated_at=$2
		 WHERE id=$3 AND driver_id=$4 AND otp=$5 AND otp <> ''
		   AND status IN ($6,$7)`,
		models.StatusInProgress, time.Now(), rideID, driverID, otp,
		models.StatusAssigned, models.StatusArrived)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.classify(ctx, rideID, func(r *models.Ride) error { return guardStart(r, driverID, otp) })
	}
	return p.Get(ctx, rideID)
}

func (p *PostgresStore) Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, updated_at=$2
		 WHERE id=$3 AND driver_id=$4 AND status=$5`,
		models.StatusCompleted, time.Now(), rideID, driverID, models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.classify(ctx, rideID, func(r *models.Ride) error { return guardComplete(r, driverID) })
	}
	return p.Get(ctx, rideID)
}

func (p *PostgresStore) Cancel(ctx context.Context, rideID string, by models.Role, partyID, reason string) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, cancelled_by=$2, cancel_reason=$3, updated_at=$4
		 WHERE id=$5 AND status IN ($6,$7) AND (rider_id=$8 OR driver_id=$8)`,
		models.StatusCancelled, by, reason, time.Now(), rideID,
		models.StatusPending, models.StatusAssigned, partyID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.classify(ctx, rideID, func(r *models.Ride) error { return guardCancel(r, partyID) })
	}
	return p.Get(ctx, rideID)
}

// classify re-reads the ride after a lost conditional update and runs the
// in-memory guard against it so callers get the precise violation. When
// the guard passes on re-read the state already matches the target (e.g.
// a repeated arrival report), which is a no-op success.
func (p *PostgresStore) classify(ctx context.Context, rideID string, guard func(*models.Ride) error) (*models.Ride, error) {
	r, err := p.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := guard(r); err != nil {
		return nil, err
	}
	return r, nil
}

func scanRide(row *sql.Row) (*models.Ride, error) {
	var r models.Ride
	var otp, driverID, driverName, driverPhone, vehName, vehPlate sql.NullString
	var cancelledBy, cancelReason sql.NullString
	err := row.Scan(&r.ID, &r.RiderID,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.Pickup.Address,
		&r.Drop.Lat, &r.Drop.Lon, &r.Drop.Address,
		&r.VehicleClass, &r.Price, &r.Status, &otp,
		&driverID, &driverName, &driverPhone, &vehName, &vehPlate,
		&cancelledBy, &cancelReason, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.OTP = otp.String
	if driverID.Valid && driverID.String != "" {
		r.Driver = &models.DriverSnapshot{
			DriverID:     driverID.String,
			FullName:     driverName.String,
			Phone:        driverPhone.String,
			VehicleName:  vehName.String,
			VehiclePlate: vehPlate.String,
			VehicleClass: r.VehicleClass,
		}
	}
	r.CancelledBy = models.Role(cancelledBy.String)
	r.CancelReason = cancelReason.String
	return &r, nil
}
