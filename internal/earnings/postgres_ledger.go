package earnings

import (
	"context"
	"database/sql"
)

// PostgresLedger persists earnings in driver_earnings, with the ride id
// as primary key so a credit can land at most once.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Credit(ctx context.Context, driverID, rideID string, amount float64) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO driver_earnings (ride_id, driver_id, amount, credited_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (ride_id) DO NOTHING`,
		rideID, driverID, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *PostgresLedger) Summary(ctx context.Context, driverID string) (Summary, error) {
	var s Summary
	err := l.db.QueryRowContext(ctx,
		`SELECT coalesce(sum(amount), 0),
		        coalesce(sum(amount) FILTER (WHERE credited_at >= date_trunc('day', now())), 0),
		        count(*)
		 FROM driver_earnings WHERE driver_id = $1`,
		driverID).Scan(&s.Total, &s.Today, &s.Rides)
	if err != nil {
		return Summary{}, err
	}
	return s, nil
}
