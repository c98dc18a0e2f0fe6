package pricing

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

// DefaultMultipliers is the per-class fare multiplier table. Bike rides
// undercut cars, autos sit in between.
var DefaultMultipliers = map[models.VehicleClass]float64{
	models.ClassCar:  2.0,
	models.ClassAuto: 1.5,
	models.ClassBike: 1.0,
}

// Table computes quotes from route geometry. Zero value is unusable;
// construct via NewTable.
type Table struct {
	multipliers map[models.VehicleClass]float64
}

func NewTable(multipliers map[models.VehicleClass]float64) *Table {
	if len(multipliers) == 0 {
		multipliers = DefaultMultipliers
	}
	return &Table{multipliers: multipliers}
}

// Quote prices a ride: (distance + tolls) scaled by class, per km.
func (t *Table) Quote(distanceM, tollCost float64, class models.VehicleClass) float64 {
	m, ok := t.multipliers[class]
	if !ok {
		m = 1.0
	}
	price := (distanceM + tollCost) * m / 1000
	return math.Round(price*100) / 100
}
