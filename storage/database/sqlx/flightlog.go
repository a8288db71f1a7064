package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/flightlog"
)

const flightLogColumns = `id, pilot_id, instructor_id, aircraft_id, flight_date, departure_airport, arrival_airport, ` +
	`hobbs_start, hobbs_end, landings, kind, remarks, created_at, updated_at`

type flightLogRow struct {
	ID               string      `db:"id"`
	PilotID          string      `db:"pilot_id"`
	InstructorID     null.String `db:"instructor_id"`
	AircraftID       string      `db:"aircraft_id"`
	FlightDate       time.Time   `db:"flight_date"`
	DepartureAirport string      `db:"departure_airport"`
	ArrivalAirport   string      `db:"arrival_airport"`
	HobbsStart       int         `db:"hobbs_start"`
	HobbsEnd         int         `db:"hobbs_end"`
	Landings         int         `db:"landings"`
	Kind             string      `db:"kind"`
	Remarks          string      `db:"remarks"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (row flightLogRow) flightLog() flightlog.FlightLog {
	return flightlog.FlightLog{
		ID:               row.ID,
		PilotID:          row.PilotID,
		InstructorID:     row.InstructorID.String,
		AircraftID:       row.AircraftID,
		FlightDate:       row.FlightDate.UTC(),
		DepartureAirport: row.DepartureAirport,
		ArrivalAirport:   row.ArrivalAirport,
		HobbsStart:       row.HobbsStart,
		HobbsEnd:         row.HobbsEnd,
		DurationMinutes:  row.HobbsEnd - row.HobbsStart,
		Landings:         row.Landings,
		Kind:             row.Kind,
		Remarks:          row.Remarks,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

type flightLogRepository struct {
	db *sqlx.DB
}

var _ flightlog.Repository = (*flightLogRepository)(nil) // interface compliance check

func NewFlightLogRepository(db *sqlx.DB) flightlog.Repository {
	return &flightLogRepository{db: db}
}

func (repo flightLogRepository) CreateFlightLog(ctx context.Context, fl flightlog.FlightLog) (_ flightlog.FlightLog, err error) {
	fl.ID = uuid.New().String()
	row := flightLogRow{
		ID:               fl.ID,
		PilotID:          fl.PilotID,
		InstructorID:     null.NewString(fl.InstructorID, fl.InstructorID != ""),
		AircraftID:       fl.AircraftID,
		FlightDate:       fl.FlightDate.UTC(),
		DepartureAirport: fl.DepartureAirport,
		ArrivalAirport:   fl.ArrivalAirport,
		HobbsStart:       fl.HobbsStart,
		HobbsEnd:         fl.HobbsEnd,
		Landings:         fl.Landings,
		Kind:             fl.Kind,
		Remarks:          fl.Remarks,
		CreatedAt:        fl.CreatedAt.UTC(),
		UpdatedAt:        fl.UpdatedAt.UTC(),
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return flightlog.FlightLog{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// the meter only moves forward: a concurrent log for the same aircraft loses
	res, err := tx.ExecContext(ctx,
		`UPDATE aircraft SET hobbs_minutes = $2, updated_at = $3 WHERE id = $1 AND hobbs_minutes <= $4`,
		fl.AircraftID, fl.HobbsEnd, row.UpdatedAt, fl.HobbsStart)
	if err != nil {
		return flightlog.FlightLog{}, errors.Wrap(err, "advancing hobbs meter")
	}
	if err = checkAffected(res, flightlog.ErrHobbsConflict, "advancing hobbs meter"); err != nil {
		return flightlog.FlightLog{}, err
	}

	q := `INSERT INTO flight_log (` + flightLogColumns + `) VALUES (:id, :pilot_id, :instructor_id, :aircraft_id, ` +
		`:flight_date, :departure_airport, :arrival_airport, :hobbs_start, :hobbs_end, :landings, :kind, :remarks, ` +
		`:created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, q, row); err != nil {
		return flightlog.FlightLog{}, errors.Wrap(err, "inserting flight log")
	}
	if err = tx.Commit(); err != nil {
		return flightlog.FlightLog{}, errors.Wrap(err, "committing flight log")
	}
	return row.flightLog(), nil
}

func (repo flightLogRepository) QueryFlightLogs(ctx context.Context, filter *flightlog.QueryFilter, ordering []core.DBOrdering) ([]flightlog.FlightLog, error) {
	w := new(where)
	if filter != nil {
		for _, id := range []string{filter.PilotID, filter.AircraftID, filter.ParticipantID} {
			if id != "" && !isUUID(id) {
				return []flightlog.FlightLog{}, nil
			}
		}
		if filter.PilotID != "" {
			w.add("pilot_id = " + w.arg(filter.PilotID))
		}
		if filter.AircraftID != "" {
			w.add("aircraft_id = " + w.arg(filter.AircraftID))
		}
		if filter.ParticipantID != "" {
			val := w.arg(filter.ParticipantID)
			w.add("(pilot_id = " + val + " OR instructor_id = " + val + ")")
		}
		if filter.Kind != "" {
			w.add("kind = " + w.arg(filter.Kind))
		}
		if !filter.DateFrom.IsZero() {
			w.add("flight_date >= " + w.arg(filter.DateFrom.UTC()))
		}
		if !filter.DateTo.IsZero() {
			w.add("flight_date <= " + w.arg(filter.DateTo.UTC()))
		}
	}

	var rows []flightLogRow
	q := `SELECT ` + flightLogColumns + ` FROM flight_log` + w.String() + orderBy(ordering, "flight_date DESC, created_at DESC")
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying flight logs")
	}
	logs := make([]flightlog.FlightLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, row.flightLog())
	}
	return logs, nil
}

func (repo flightLogRepository) GetFlightLog(ctx context.Context, id string) (flightlog.FlightLog, error) {
	if !isUUID(id) {
		return flightlog.FlightLog{}, flightlog.ErrNotFound
	}
	var row flightLogRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+flightLogColumns+` FROM flight_log WHERE id = $1`, id); err != nil {
		return flightlog.FlightLog{}, trapNoRowsErr(err, flightlog.ErrNotFound, "finding flight log")
	}
	return row.flightLog(), nil
}

func (repo flightLogRepository) DeleteFlightLog(ctx context.Context, id string) error {
	if !isUUID(id) {
		return flightlog.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM flight_log WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting flight log")
	}
	return checkAffected(res, flightlog.ErrNotFound, "deleting flight log")
}

type kindTotalsRow struct {
	Kind     string `db:"kind"`
	Flights  int    `db:"flights"`
	Landings int    `db:"landings"`
	Minutes  int    `db:"minutes"`
}

func (repo flightLogRepository) PilotTotals(ctx context.Context, pilotID string) (flightlog.Totals, error) {
	totals := flightlog.NewTotals(pilotID)
	if !isUUID(pilotID) {
		return totals, nil
	}

	var rows []kindTotalsRow
	q := `SELECT kind, COUNT(*) AS flights, COALESCE(SUM(landings), 0) AS landings, ` +
		`COALESCE(SUM(hobbs_end - hobbs_start), 0) AS minutes FROM flight_log WHERE pilot_id = $1 GROUP BY kind`
	if err := repo.db.SelectContext(ctx, &rows, q, pilotID); err != nil {
		return totals, errors.Wrap(err, "summing flight logs")
	}
	for _, row := range rows {
		totals.Add(row.Kind, row.Flights, row.Landings, row.Minutes)
	}
	return totals, nil
}
