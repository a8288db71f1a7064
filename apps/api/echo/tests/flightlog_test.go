package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	testutil "github.com/trezcool/aeroschool/tests"
)

func Test_flightLogApi(t *testing.T) {
	env := setup(t)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@aero.io", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other", "other@aero.io", "", []string{user.RoleStudent}, true)
	cfi := testutil.CreateUser(t, env.usrRepo, "Instructor", "cfi", "cfi@aero.io", "", []string{user.RoleInstructor}, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@aero.io", "", []string{user.RoleAdmin}, true)
	caa := testutil.CreateAircraft(t, env.acRepo, "9Q-CAA", 600, "")

	studentToken := getToken(t, env.conf, student)
	otherToken := getToken(t, env.conf, other)
	cfiToken := getToken(t, env.conf, cfi)
	adminToken := getToken(t, env.conf, admin)

	newLog := func(pilotID, instructorID string, start, end int, kind string) flightlog.NewFlightLog {
		return flightlog.NewFlightLog{
			PilotID:          pilotID,
			InstructorID:     instructorID,
			AircraftID:       caa.ID,
			FlightDate:       time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
			DepartureAirport: "fzaa",
			ArrivalAirport:   "FZAB",
			HobbsStart:       start,
			HobbsEnd:         end,
			Landings:         3,
			Kind:             kind,
		}
	}
	create := func(t *testing.T, token string, nfl flightlog.NewFlightLog) flightlog.FlightLog {
		t.Helper()
		req, rec := newAuthRequest(http.MethodPost, "/v1/flight-logs", token, marchallObj(t, nfl))
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var fl flightlog.FlightLog
		unmarshal(t, rec, &fl)
		return fl
	}

	// the instructor logs a dual flight; the student logs a solo flight
	dual := create(t, cfiToken, newLog(student.ID, cfi.ID, 600, 690, flightlog.KindDual))
	assert.Equal(t, 90, dual.DurationMinutes)
	assert.Equal(t, "FZAA", dual.DepartureAirport)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), dual.FlightDate)
	solo := create(t, studentToken, newLog("", "", 690, 720, flightlog.KindSolo))
	assert.Equal(t, student.ID, solo.PilotID)

	runTests(t, env, []httpTest{
		{
			name: "create: not a participant", method: http.MethodPost, path: "/v1/flight-logs", token: otherToken,
			body:     marchallObj(t, newLog(student.ID, "", 720, 750, flightlog.KindSolo)),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "create: invalid", method: http.MethodPost, path: "/v1/flight-logs", token: studentToken,
			body:     marchallObj(t, newLog("", "", 720, 700, "aerobatics")),
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t,
				"hobbs_end", "hobbs_end must be greater than hobbs_start",
				"kind", "kind must be one of [dual solo pic checkride]",
			),
		},
		{
			name: "create: hobbs behind aircraft", method: http.MethodPost, path: "/v1/flight-logs", token: studentToken,
			body:     marchallObj(t, newLog("", "", 700, 730, flightlog.KindSolo)),
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "hobbs_start", flightlog.ErrHobbsConflict.Error()),
		},
		{
			name: "create: dual needs instructor", method: http.MethodPost, path: "/v1/flight-logs", token: studentToken,
			body:     marchallObj(t, newLog("", "", 720, 780, flightlog.KindDual)),
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "instructor_id", "an instructor is required for this kind of flight"),
		},
		{
			name: "create: instructor is not an instructor", method: http.MethodPost, path: "/v1/flight-logs", token: studentToken,
			body:     marchallObj(t, newLog("", other.ID, 720, 780, flightlog.KindDual)),
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "instructor_id", "user is not an instructor"),
		},
		{name: "student logbook", path: "/v1/flight-logs", token: studentToken, wantData: marchallList(t, dual, solo)},
		{name: "instructor logbook", path: "/v1/flight-logs", token: cfiToken, wantData: marchallList(t, dual)},
		{name: "other logbook", path: "/v1/flight-logs", token: otherToken, wantData: marchallList(t)},
		{name: "admin by kind", path: "/v1/flight-logs?kind=solo", token: adminToken, wantData: marchallList(t, solo)},
		{name: "by date", path: "/v1/flight-logs?from=2026-03-02&to=2026-03-02", token: studentToken, wantData: marchallList(t, dual, solo)},
		{name: "by date: none", path: "/v1/flight-logs?from=2026-03-03T00:00:00Z", token: studentToken, wantData: marchallList(t)},
		{
			name: "by date: invalid", path: "/v1/flight-logs?from=yesterday&to=2026-13-01", token: studentToken,
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "from", "must be a date (YYYY-MM-DD) or an RFC 3339 time", "to", "must be a date (YYYY-MM-DD) or an RFC 3339 time"),
		},
		{name: "detail", path: "/v1/flight-logs/" + dual.ID, token: cfiToken, wantData: marchallObj(t, dual)},
		{
			name: "detail: not a participant", path: "/v1/flight-logs/" + dual.ID, token: otherToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "totals", path: "/v1/users/" + student.ID + "/flight-totals", token: studentToken,
			wantData: marchallObj(t, flightlog.Totals{
				PilotID: student.ID, Flights: 2, Landings: 6, TotalMinutes: 120,
				MinutesByKind: map[string]int{"dual": 90, "solo": 30, "pic": 0, "checkride": 0},
			}),
		},
		{
			name: "totals: someone else's", path: "/v1/users/" + student.ID + "/flight-totals", token: otherToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "delete: admin required", method: http.MethodDelete, path: "/v1/flight-logs/" + solo.ID, token: studentToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "delete", method: http.MethodDelete, path: "/v1/flight-logs/" + solo.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "after delete", path: "/v1/flight-logs", token: studentToken, wantData: marchallList(t, dual)},
	})
}
