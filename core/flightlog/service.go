package flightlog

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/user"
)

var (
	// errors
	ErrNotFound = errors.New("flight log not found")
	// ErrHobbsConflict is returned by Repository.CreateFlightLog when the aircraft meter
	// moved past HobbsStart since the log was validated.
	ErrHobbsConflict = errors.New("hobbs_start is behind the aircraft hobbs meter")

	errPilotNotFound      = "pilot not found"
	errPilotInactive      = "pilot account is deactivated"
	errAircraftNotFound   = "aircraft not found"
	errAircraftNotActive  = "aircraft is not in service"
	errInstructorRequired = "an instructor is required for this kind of flight"
	errInstructorNotFound = "instructor not found"
	errNotInstructor      = "user is not an instructor"
	errSelfInstruction    = "pilot cannot be their own instructor"
)

type (
	Repository interface {
		// CreateFlightLog saves the log and advances the aircraft hobbs meter to HobbsEnd, atomically.
		// ErrHobbsConflict is returned if the meter is already past HobbsStart.
		CreateFlightLog(ctx context.Context, fl FlightLog) (FlightLog, error)
		QueryFlightLogs(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]FlightLog, error)
		GetFlightLog(ctx context.Context, id string) (FlightLog, error)
		DeleteFlightLog(ctx context.Context, id string) error
		PilotTotals(ctx context.Context, pilotID string) (Totals, error)
	}

	Service interface {
		Create(ctx context.Context, nfl NewFlightLog) (FlightLog, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]FlightLog, error)
		GetByID(ctx context.Context, id string) (FlightLog, error)
		Delete(ctx context.Context, id string) error
		Totals(ctx context.Context, pilotID string) (Totals, error)
	}

	service struct {
		repo        Repository
		userSvc     user.Service
		aircraftSvc aircraft.Service
	}
)

var _ Service = (*service)(nil)

var orderingFields = []string{"flight_date", "created_at", "hobbs_start", "kind", "landings"}

func NewService(repo Repository, userSvc user.Service, aircraftSvc aircraft.Service) Service {
	return &service{
		repo:        repo,
		userSvc:     userSvc,
		aircraftSvc: aircraftSvc,
	}
}

func (svc *service) Create(ctx context.Context, nfl NewFlightLog) (FlightLog, error) {
	if err := svc.checkReferences(ctx, nfl); err != nil {
		return FlightLog{}, err
	}

	now := time.Now().UTC()
	fl, err := svc.repo.CreateFlightLog(ctx, FlightLog{
		PilotID:          nfl.PilotID,
		InstructorID:     nfl.InstructorID,
		AircraftID:       nfl.AircraftID,
		FlightDate:       nfl.FlightDate,
		DepartureAirport: nfl.DepartureAirport,
		ArrivalAirport:   nfl.ArrivalAirport,
		HobbsStart:       nfl.HobbsStart,
		HobbsEnd:         nfl.HobbsEnd,
		DurationMinutes:  nfl.DurationMinutes(),
		Landings:         nfl.Landings,
		Kind:             nfl.Kind,
		Remarks:          nfl.Remarks,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if errors.Cause(err) == ErrHobbsConflict {
		return FlightLog{}, core.NewValidationError(err, core.FieldError{Field: "hobbs_start", Error: ErrHobbsConflict.Error()})
	}
	return fl, err
}

// checkReferences validates the pilot, instructor & aircraft of the log
// and reports all failures as field errors.
func (svc *service) checkReferences(ctx context.Context, nfl NewFlightLog) error {
	var flds []core.FieldError
	addErr := func(field, msg string) { flds = append(flds, core.FieldError{Field: field, Error: msg}) }

	pilot, err := svc.userSvc.GetByID(ctx, nfl.PilotID)
	switch {
	case errors.Cause(err) == user.ErrNotFound:
		addErr("pilot_id", errPilotNotFound)
	case err != nil:
		return errors.Wrap(err, "finding pilot")
	case !pilot.Active():
		addErr("pilot_id", errPilotInactive)
	}

	ac, err := svc.aircraftSvc.GetByID(ctx, nfl.AircraftID)
	switch {
	case errors.Cause(err) == aircraft.ErrNotFound:
		addErr("aircraft_id", errAircraftNotFound)
	case err != nil:
		return errors.Wrap(err, "finding aircraft")
	case !ac.Active():
		addErr("aircraft_id", errAircraftNotActive)
	case nfl.HobbsStart < ac.HobbsMinutes:
		addErr("hobbs_start", ErrHobbsConflict.Error())
	}

	switch {
	case nfl.InstructorID == "":
		if KindNeedsInstructor(nfl.Kind) {
			addErr("instructor_id", errInstructorRequired)
		}
	case nfl.InstructorID == nfl.PilotID:
		addErr("instructor_id", errSelfInstruction)
	default:
		instr, err := svc.userSvc.GetByID(ctx, nfl.InstructorID)
		switch {
		case errors.Cause(err) == user.ErrNotFound:
			addErr("instructor_id", errInstructorNotFound)
		case err != nil:
			return errors.Wrap(err, "finding instructor")
		case !(instr.Active() && instr.IsInstructor()):
			addErr("instructor_id", errNotInstructor)
		}
	}

	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]FlightLog, error) {
	ordering = core.AllowedOrderings(ordering, orderingFields...)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "flight_date"}, {Field: "created_at"}}
	}
	return svc.repo.QueryFlightLogs(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (FlightLog, error) {
	return svc.repo.GetFlightLog(ctx, id)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteFlightLog(ctx, id)
}

func (svc *service) Totals(ctx context.Context, pilotID string) (Totals, error) {
	totals, err := svc.repo.PilotTotals(ctx, pilotID)
	return totals, errors.Wrap(err, "computing pilot totals")
}
