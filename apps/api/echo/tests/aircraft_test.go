package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	testutil "github.com/trezcool/aeroschool/tests"
)

func Test_aircraftApi(t *testing.T) {
	env := setup(t)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@aero.io", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@aero.io", "", []string{user.RoleAdmin}, true)
	caa := testutil.CreateAircraft(t, env.acRepo, "9Q-CAA", 600, "")
	cab := testutil.CreateAircraft(t, env.acRepo, "9Q-CAB", 100, aircraft.StatusMaintenance)

	studentToken := getToken(t, env.conf, student)
	adminToken := getToken(t, env.conf, admin)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	runTests(t, env, []httpTest{
		{name: "Auth required", path: "/v1/aircraft", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "fleet", path: "/v1/aircraft", token: studentToken, wantData: marchallList(t, caa, cab)},
		{name: "by status", path: "/v1/aircraft?status=maintenance", token: studentToken, wantData: marchallList(t, cab)},
		{name: "search", path: "/v1/aircraft?search=caa", token: studentToken, wantData: marchallList(t, caa)},
		{name: "detail", path: "/v1/aircraft/" + caa.ID, token: studentToken, wantData: marchallObj(t, caa)},
		{
			name: "unknown", path: "/v1/aircraft/nope", token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "create: admin required", method: http.MethodPost, path: "/v1/aircraft", token: studentToken,
			body: []byte(`{"registration":"9Q-CAC"}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "create: invalid", method: http.MethodPost, path: "/v1/aircraft", token: adminToken,
			body:     []byte(`{"registration":"9Q CAC!","model":"C152","category":"glider"}`),
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t,
				"registration", "registration must be 3 to 10 characters of A-Z, 0-9 or '-'",
				"category", "category must be one of [single_engine multi_engine simulator]",
			),
		},
		{
			name: "create: registration taken", method: http.MethodPost, path: "/v1/aircraft", token: adminToken,
			body:     []byte(`{"registration":" 9q-caa ","model":"C152","category":"single_engine"}`),
			wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "registration", aircraft.ErrRegistrationExists.Error()),
		},
		{
			name: "status: invalid", method: http.MethodPut, path: "/v1/aircraft/" + cab.ID + "/status", token: adminToken,
			body: []byte(`{"status":"flying"}`), wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "status", "status must be one of [active maintenance retired]"),
		},
		{
			name: "hobbs: backwards", method: http.MethodPut, path: "/v1/aircraft/" + caa.ID + "/hobbs", token: adminToken,
			body: []byte(`{"hobbs_minutes":599}`), wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "hobbs_minutes", aircraft.ErrHobbsRegression.Error()),
		},
		{
			name: "hobbs: required", method: http.MethodPut, path: "/v1/aircraft/" + caa.ID + "/hobbs", token: adminToken,
			body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "hobbs_minutes", "this field is required"),
		},
	})

	t.Run("create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/aircraft", adminToken,
			[]byte(`{"registration":"9q-cac","model":"Cessna 152","category":"SINGLE_ENGINE","hourly_rate_cents":15000}`))
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var ac aircraft.Aircraft
		unmarshal(t, rec, &ac)
		assert.Equal(t, "9Q-CAC", ac.Registration)
		assert.Equal(t, aircraft.CategorySingleEngine, ac.Category)
		assert.Equal(t, aircraft.StatusActive, ac.Status)
	})

	t.Run("set status & hobbs", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/aircraft/"+cab.ID+"/status", adminToken, []byte(`{"status":"Active"}`))
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ac aircraft.Aircraft
		unmarshal(t, rec, &ac)
		assert.Equal(t, aircraft.StatusActive, ac.Status)

		req, rec = newAuthRequest(http.MethodPut, "/v1/aircraft/"+cab.ID+"/hobbs", adminToken, []byte(`{"hobbs_minutes":160}`))
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshal(t, rec, &ac)
		assert.Equal(t, 160, ac.HobbsMinutes)
	})

	t.Run("delete", func(t *testing.T) {
		fl := flightlog.NewFlightLog{
			AircraftID: caa.ID, FlightDate: time.Now(), DepartureAirport: "FZAA", ArrivalAirport: "FZAA",
			HobbsStart: 600, HobbsEnd: 660, Landings: 1, Kind: flightlog.KindSolo,
		}
		req, rec := newAuthRequest(http.MethodPost, "/v1/flight-logs", studentToken, marchallObj(t, fl))
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		req, rec = newAuthRequest(http.MethodDelete, "/v1/aircraft/"+caa.ID, adminToken)
		env.serve(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"`+aircraft.ErrInUse.Error()+`"}`, rec.Body.String())

		req, rec = newAuthRequest(http.MethodDelete, "/v1/aircraft/"+cab.ID, adminToken)
		env.serve(req, rec)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
