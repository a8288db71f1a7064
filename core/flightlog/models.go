package flightlog

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/aeroschool/core"
)

// Kinds
const (
	KindDual      = "dual"
	KindSolo      = "solo"
	KindPIC       = "pic"
	KindCheckride = "checkride"
)

var Kinds = []string{KindDual, KindSolo, KindPIC, KindCheckride}

// KindNeedsInstructor reports whether flights of the given kind must log an instructor.
func KindNeedsInstructor(kind string) bool {
	return kind == KindDual || kind == KindCheckride
}

type FlightLog struct {
	ID               string    `json:"id"`
	PilotID          string    `json:"pilot_id"`
	InstructorID     string    `json:"instructor_id,omitempty"`
	AircraftID       string    `json:"aircraft_id"`
	FlightDate       time.Time `json:"flight_date"` // UTC midnight
	DepartureAirport string    `json:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport"`
	HobbsStart       int       `json:"hobbs_start"`
	HobbsEnd         int       `json:"hobbs_end"`
	DurationMinutes  int       `json:"duration_minutes"`
	Landings         int       `json:"landings"`
	Kind             string    `json:"kind"`
	Remarks          string    `json:"remarks"`
	CreatedAt        time.Time `json:"created_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"` // UTC
}

// Involves reports whether the user flew this flight as pilot or instructor.
func (fl *FlightLog) Involves(userID string) bool {
	return fl.PilotID == userID || (fl.InstructorID != "" && fl.InstructorID == userID)
}

// NewFlightLog contains information needed to log a flight.
// PilotID defaults to the logged in user.
type NewFlightLog struct {
	PilotID          string    `json:"pilot_id"`
	InstructorID     string    `json:"instructor_id"`
	AircraftID       string    `json:"aircraft_id" validate:"required"`
	FlightDate       time.Time `json:"flight_date" validate:"required"`
	DepartureAirport string    `json:"departure_airport" validate:"required,icao"`
	ArrivalAirport   string    `json:"arrival_airport" validate:"required,icao"`
	HobbsStart       int       `json:"hobbs_start" validate:"gte=0"`
	HobbsEnd         int       `json:"hobbs_end" validate:"gtfield=HobbsStart"`
	Landings         int       `json:"landings" validate:"gte=1"`
	Kind             string    `json:"kind" validate:"required,oneof=dual solo pic checkride"`
	Remarks          string    `json:"remarks" validate:"max=500"`
}

func (nfl *NewFlightLog) Validate(validate *validator.Validate) error {
	nfl.PilotID = core.CleanString(nfl.PilotID)
	nfl.InstructorID = core.CleanString(nfl.InstructorID)
	nfl.AircraftID = core.CleanString(nfl.AircraftID)
	nfl.DepartureAirport = cleanAirport(nfl.DepartureAirport)
	nfl.ArrivalAirport = cleanAirport(nfl.ArrivalAirport)
	nfl.Kind = core.CleanString(nfl.Kind, true /* lower */)
	nfl.Remarks = core.CleanString(nfl.Remarks)
	if !nfl.FlightDate.IsZero() {
		nfl.FlightDate = truncateDate(nfl.FlightDate)
	}
	return validate.Struct(nfl)
}

// DurationMinutes is the hobbs time of the flight.
func (nfl *NewFlightLog) DurationMinutes() int {
	return nfl.HobbsEnd - nfl.HobbsStart
}

type QueryFilter struct {
	PilotID    string    `query:"pilot"`
	AircraftID string    `query:"aircraft"`
	Kind       string    `query:"kind"`
	DateFrom   time.Time `query:"-"` // bound from ?from=
	DateTo     time.Time `query:"-"` // bound from ?to=

	// ParticipantID restricts to flights where the user is pilot or instructor.
	ParticipantID string `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.PilotID == "" && qf.AircraftID == "" && qf.Kind == "" &&
		qf.DateFrom.IsZero() && qf.DateTo.IsZero() && qf.ParticipantID == ""
}

func (qf *QueryFilter) Clean() {
	qf.PilotID = core.CleanString(qf.PilotID)
	qf.AircraftID = core.CleanString(qf.AircraftID)
	qf.Kind = core.CleanString(qf.Kind, true /* lower */)
	if !qf.DateFrom.IsZero() {
		qf.DateFrom = truncateDate(qf.DateFrom)
	}
	if !qf.DateTo.IsZero() {
		qf.DateTo = truncateDate(qf.DateTo)
	}
}

// Totals are the logbook totals of a pilot.
type Totals struct {
	PilotID       string         `json:"pilot_id"`
	Flights       int            `json:"flights"`
	Landings      int            `json:"landings"`
	TotalMinutes  int            `json:"total_minutes"`
	MinutesByKind map[string]int `json:"minutes_by_kind"`
}

// NewTotals returns empty Totals with every kind present.
func NewTotals(pilotID string) Totals {
	byKind := make(map[string]int, len(Kinds))
	for _, k := range Kinds {
		byKind[k] = 0
	}
	return Totals{PilotID: pilotID, MinutesByKind: byKind}
}

// Add accumulates a flight into the totals.
func (t *Totals) Add(kind string, flights, landings, minutes int) {
	t.Flights += flights
	t.Landings += landings
	t.TotalMinutes += minutes
	t.MinutesByKind[kind] += minutes
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
