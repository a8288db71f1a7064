package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
)

const aircraftColumns = `id, registration, model, category, hourly_rate_cents, hobbs_minutes, status, created_at, updated_at`

type aircraftRow struct {
	ID              string    `db:"id"`
	Registration    string    `db:"registration"`
	Model           string    `db:"model"`
	Category        string    `db:"category"`
	HourlyRateCents int64     `db:"hourly_rate_cents"`
	HobbsMinutes    int       `db:"hobbs_minutes"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (row aircraftRow) aircraft() aircraft.Aircraft {
	return aircraft.Aircraft{
		ID:              row.ID,
		Registration:    row.Registration,
		Model:           row.Model,
		Category:        row.Category,
		HourlyRateCents: row.HourlyRateCents,
		HobbsMinutes:    row.HobbsMinutes,
		Status:          row.Status,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
}

func newAircraftRow(ac aircraft.Aircraft) aircraftRow {
	return aircraftRow{
		ID:              ac.ID,
		Registration:    ac.Registration,
		Model:           ac.Model,
		Category:        ac.Category,
		HourlyRateCents: ac.HourlyRateCents,
		HobbsMinutes:    ac.HobbsMinutes,
		Status:          ac.Status,
		CreatedAt:       ac.CreatedAt.UTC(),
		UpdatedAt:       ac.UpdatedAt.UTC(),
	}
}

type aircraftRepository struct {
	db *sqlx.DB
}

var _ aircraft.Repository = (*aircraftRepository)(nil) // interface compliance check

func NewAircraftRepository(db *sqlx.DB) aircraft.Repository {
	return &aircraftRepository{db: db}
}

func (repo aircraftRepository) CheckRegistrationUniqueness(ctx context.Context, registration string, excludedIDs ...string) error {
	w := new(where)
	w.add("registration = " + w.arg(registration))
	if len(excludedIDs) > 0 {
		w.add("NOT (id = ANY(" + w.arg(pq.Array(validUUIDs(excludedIDs))) + "::uuid[]))")
	}

	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM aircraft` + w.String() + `)`
	if err := repo.db.GetContext(ctx, &exists, q, w.args...); err != nil {
		return errors.Wrap(err, "checking registration uniqueness")
	}
	if exists {
		return aircraft.ErrRegistrationExists
	}
	return nil
}

func (repo aircraftRepository) CreateAircraft(ctx context.Context, ac aircraft.Aircraft) (aircraft.Aircraft, error) {
	ac.ID = uuid.New().String()
	q := `INSERT INTO aircraft (` + aircraftColumns + `) VALUES ` +
		`(:id, :registration, :model, :category, :hourly_rate_cents, :hobbs_minutes, :status, :created_at, :updated_at)`
	row := newAircraftRow(ac)
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return aircraft.Aircraft{}, errors.Wrap(err, "inserting aircraft")
	}
	return row.aircraft(), nil
}

func (repo aircraftRepository) QueryAircraft(ctx context.Context, filter *aircraft.QueryFilter, ordering []core.DBOrdering) ([]aircraft.Aircraft, error) {
	w := new(where)
	if filter != nil {
		if filter.Search != "" {
			val := w.arg("%" + filter.Search + "%")
			w.add("(registration ILIKE " + val + " OR model ILIKE " + val + ")")
		}
		if len(filter.Statuses) > 0 {
			w.add("status = ANY(" + w.arg(pq.Array(filter.Statuses)) + ")")
		}
		if filter.Category != "" {
			w.add("category = " + w.arg(filter.Category))
		}
	}

	var rows []aircraftRow
	q := `SELECT ` + aircraftColumns + ` FROM aircraft` + w.String() + orderBy(ordering, "registration ASC")
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying aircraft")
	}
	fleet := make([]aircraft.Aircraft, 0, len(rows))
	for _, row := range rows {
		fleet = append(fleet, row.aircraft())
	}
	return fleet, nil
}

func (repo aircraftRepository) GetAircraft(ctx context.Context, id string) (aircraft.Aircraft, error) {
	if !isUUID(id) {
		return aircraft.Aircraft{}, aircraft.ErrNotFound
	}
	var row aircraftRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+aircraftColumns+` FROM aircraft WHERE id = $1`, id); err != nil {
		return aircraft.Aircraft{}, trapNoRowsErr(err, aircraft.ErrNotFound, "finding aircraft")
	}
	return row.aircraft(), nil
}

func (repo aircraftRepository) UpdateAircraft(ctx context.Context, ac aircraft.Aircraft) (aircraft.Aircraft, error) {
	q := `UPDATE aircraft SET registration = :registration, model = :model, category = :category, ` +
		`hourly_rate_cents = :hourly_rate_cents, hobbs_minutes = :hobbs_minutes, status = :status, updated_at = :updated_at ` +
		`WHERE id = :id`
	row := newAircraftRow(ac)
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return aircraft.Aircraft{}, errors.Wrap(err, "updating aircraft")
	}
	if err = checkAffected(res, aircraft.ErrNotFound, "updating aircraft"); err != nil {
		return aircraft.Aircraft{}, err
	}
	return row.aircraft(), nil
}

func (repo aircraftRepository) CountFlightLogs(ctx context.Context, id string) (int, error) {
	if !isUUID(id) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM flight_log WHERE aircraft_id = $1`, id)
	return n, errors.Wrap(err, "counting flight logs")
}

func (repo aircraftRepository) DeleteAircraft(ctx context.Context, id string) error {
	if !isUUID(id) {
		return aircraft.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM aircraft WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting aircraft")
	}
	return checkAffected(res, aircraft.ErrNotFound, "deleting aircraft")
}
