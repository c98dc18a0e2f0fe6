package vehicles

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresRegistry reads driver/vehicle assignments maintained by the
// fleet admin surface.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(dsn string) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRegistry{db: db}, nil
}

func (p *PostgresRegistry) Vehicle(ctx context.Context, driverID string) (models.Vehicle, error) {
	var v models.Vehicle
	err := p.db.QueryRowContext(ctx,
		`SELECT name, plate, class FROM vehicles WHERE driver_id=$1`, driverID).
		Scan(&v.Name, &v.Plate, &v.Class)
	if err == sql.ErrNoRows {
		return models.Vehicle{}, ErrUnknownDriver
	}
	return v, err
}

func (p *PostgresRegistry) Profile(ctx context.Context, driverID string) (Profile, error) {
	var pr Profile
	err := p.db.QueryRowContext(ctx,
		`SELECT full_name, phone FROM drivers WHERE id=$1`, driverID).
		Scan(&pr.FullName, &pr.Phone)
	if err == sql.ErrNoRows {
		return Profile{}, ErrUnknownDriver
	}
	return pr, err
}
