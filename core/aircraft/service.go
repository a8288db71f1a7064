package aircraft

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core"
)

var (
	// errors
	ErrNotFound           = errors.New("aircraft not found")
	ErrRegistrationExists = errors.New("an aircraft with this registration already exists")
	ErrInUse              = errors.New("aircraft has logged flights; retire it instead")
	ErrHobbsRegression    = errors.New("hobbs meter cannot go backwards")
)

type (
	Repository interface {
		// CheckRegistrationUniqueness returns ErrRegistrationExists if another Aircraft
		// (not in excludedIDs) already uses registration.
		CheckRegistrationUniqueness(ctx context.Context, registration string, excludedIDs ...string) error
		CreateAircraft(ctx context.Context, ac Aircraft) (Aircraft, error)
		// QueryAircraft applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Aircraft.Registration or Aircraft.Model.
		QueryAircraft(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Aircraft, error)
		GetAircraft(ctx context.Context, id string) (Aircraft, error)
		UpdateAircraft(ctx context.Context, ac Aircraft) (Aircraft, error)
		CountFlightLogs(ctx context.Context, id string) (int, error)
		DeleteAircraft(ctx context.Context, id string) error
	}

	Service interface {
		CheckUniqueness(ctx context.Context, registration string, excludedIDs ...string) error
		Create(ctx context.Context, na NewAircraft) (Aircraft, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Aircraft, error)
		GetByID(ctx context.Context, id string) (Aircraft, error)
		Update(ctx context.Context, ac Aircraft, ua UpdateAircraft) (Aircraft, error)
		SetStatus(ctx context.Context, ac Aircraft, status string) (Aircraft, error)
		// AddFlightTime advances the hobbs meter of the Aircraft to hobbsEnd.
		AddFlightTime(ctx context.Context, id string, hobbsEnd int) (Aircraft, error)
		Delete(ctx context.Context, id string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

var orderingFields = []string{"registration", "model", "category", "status", "hobbs_minutes", "hourly_rate_cents", "created_at"}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CheckUniqueness(ctx context.Context, registration string, excludedIDs ...string) error {
	err := svc.repo.CheckRegistrationUniqueness(ctx, registration, excludedIDs...)
	if errors.Cause(err) == ErrRegistrationExists {
		return core.NewValidationError(err, core.FieldError{Field: "registration", Error: ErrRegistrationExists.Error()})
	}
	return errors.Wrap(err, "checking registration uniqueness")
}

func (svc *service) Create(ctx context.Context, na NewAircraft) (Aircraft, error) {
	now := time.Now().UTC()
	return svc.repo.CreateAircraft(ctx, Aircraft{
		Registration:    na.Registration,
		Model:           na.Model,
		Category:        na.Category,
		HourlyRateCents: na.HourlyRateCents,
		HobbsMinutes:    na.HobbsMinutes,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Aircraft, error) {
	return svc.repo.QueryAircraft(ctx, filter, core.AllowedOrderings(ordering, orderingFields...))
}

func (svc *service) GetByID(ctx context.Context, id string) (Aircraft, error) {
	return svc.repo.GetAircraft(ctx, id)
}

func (svc *service) Update(ctx context.Context, ac Aircraft, ua UpdateAircraft) (Aircraft, error) {
	ac.Registration = ua.Registration
	ac.Model = ua.Model
	ac.Category = ua.Category
	if ua.HourlyRateCents != nil {
		ac.HourlyRateCents = *ua.HourlyRateCents
	}
	ac.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateAircraft(ctx, ac)
}

func (svc *service) SetStatus(ctx context.Context, ac Aircraft, status string) (Aircraft, error) {
	ac.Status = status
	ac.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateAircraft(ctx, ac)
}

func (svc *service) AddFlightTime(ctx context.Context, id string, hobbsEnd int) (Aircraft, error) {
	ac, err := svc.repo.GetAircraft(ctx, id)
	if err != nil {
		return Aircraft{}, err
	}
	if hobbsEnd < ac.HobbsMinutes {
		return Aircraft{}, ErrHobbsRegression
	}
	ac.HobbsMinutes = hobbsEnd
	ac.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateAircraft(ctx, ac)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	n, err := svc.repo.CountFlightLogs(ctx, id)
	if err != nil {
		return errors.Wrap(err, "counting flight logs")
	}
	if n > 0 {
		return core.NewValidationError(ErrInUse)
	}
	return svc.repo.DeleteAircraft(ctx, id)
}
