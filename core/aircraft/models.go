package aircraft

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/aeroschool/core"
)

// Categories
const (
	CategorySingleEngine = "single_engine"
	CategoryMultiEngine  = "multi_engine"
	CategorySimulator    = "simulator"
)

// Statuses
const (
	StatusActive      = "active"
	StatusMaintenance = "maintenance"
	StatusRetired     = "retired"
)

var (
	Categories = []string{CategorySingleEngine, CategoryMultiEngine, CategorySimulator}
	Statuses   = []string{StatusActive, StatusMaintenance, StatusRetired}
)

type Aircraft struct {
	ID              string    `json:"id"`
	Registration    string    `json:"registration"`
	Model           string    `json:"model"`
	Category        string    `json:"category"`
	HourlyRateCents int64     `json:"hourly_rate_cents"`
	HobbsMinutes    int       `json:"hobbs_minutes"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

func (ac *Aircraft) Active() bool {
	return ac.Status == StatusActive
}

// NewAircraft contains information needed to add an Aircraft to the fleet.
type NewAircraft struct {
	Registration    string `json:"registration" validate:"required,registration"`
	Model           string `json:"model" validate:"required,notblank"`
	Category        string `json:"category" validate:"required,oneof=single_engine multi_engine simulator"`
	HourlyRateCents int64  `json:"hourly_rate_cents" validate:"gte=0"`
	HobbsMinutes    int    `json:"hobbs_minutes" validate:"gte=0"`
}

func (na *NewAircraft) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	na.Registration = CleanRegistration(na.Registration)
	na.Model = core.CleanString(na.Model)
	na.Category = core.CleanString(na.Category, true /* lower */)

	if err := validate.Struct(na); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, na.Registration)
}

// UpdateAircraft defines what information may be changed on an Aircraft.
// Empty fields are left untouched.
type UpdateAircraft struct {
	Registration    string `json:"registration" validate:"omitempty,registration"`
	Model           string `json:"model"`
	Category        string `json:"category" validate:"omitempty,oneof=single_engine multi_engine simulator"`
	HourlyRateCents *int64 `json:"hourly_rate_cents" validate:"omitempty,gte=0"`
}

func (ua *UpdateAircraft) Validate(ctx context.Context, orig Aircraft, validate *validator.Validate, svc Service) error {
	if reg := CleanRegistration(ua.Registration); reg != "" {
		ua.Registration = reg
	} else {
		ua.Registration = orig.Registration
	}
	if model := core.CleanString(ua.Model); model != "" {
		ua.Model = model
	} else {
		ua.Model = orig.Model
	}
	if cat := core.CleanString(ua.Category, true /* lower */); cat != "" {
		ua.Category = cat
	} else {
		ua.Category = orig.Category
	}

	if err := validate.Struct(ua); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ua.Registration, orig.ID)
}

type SetStatus struct {
	Status string `json:"status" validate:"required,oneof=active maintenance retired"`
}

func (ss *SetStatus) Validate(validate *validator.Validate) error {
	ss.Status = core.CleanString(ss.Status, true /* lower */)
	return validate.Struct(ss)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Statuses []string `query:"status"`
	Category string   `query:"category"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Statuses == nil && qf.Category == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Category = core.CleanString(qf.Category, true /* lower */)
}

// CleanRegistration normalizes a tail number: trimmed & upper-cased.
func CleanRegistration(reg string) string {
	return strings.ToUpper(strings.TrimSpace(reg))
}
