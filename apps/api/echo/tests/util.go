package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/aeroschool/apps/api/echo"
	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	emailsvc "github.com/trezcool/aeroschool/services/email"
	"github.com/trezcool/aeroschool/services/metrics"
	inmemdb "github.com/trezcool/aeroschool/storage/database/inmem"
	testutil "github.com/trezcool/aeroschool/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type invoiceSeeder interface {
	AddInvoiceClient(c billing.InvoiceClient) billing.InvoiceClient
	AddInvoice(inv billing.Invoice) billing.Invoice
}

// testEnv is a Server backed by in-memory repositories.
type testEnv struct {
	conf     *core.Config
	app      Server
	usrRepo  user.Repository
	acRepo   aircraft.Repository
	invoices invoiceSeeder
	mail     *emailsvc.ConsoleServiceMock
	provider *testutil.FakeProvider
	metrics  *metrics.Metrics
}

func setup(t *testing.T, configure ...func(conf *core.Config)) *testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	for _, fn := range configure {
		fn(conf)
	}
	logger := testutil.NewLogger(conf)
	core.ParseEmailTemplates(conf, logger)

	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	aircraft.InitValidators(validate, translator)
	flightlog.InitValidators(validate, translator)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	acRepo := inmemdb.NewAircraftRepository(db)
	billRepo := inmemdb.NewBillingRepository(db)

	// set up services
	mail := emailsvc.NewConsoleServiceMock(logger, conf)
	provider := new(testutil.FakeProvider)
	usrSvc := user.NewService(usrRepo, mail, conf)
	acSvc := aircraft.NewService(acRepo)
	flSvc := flightlog.NewService(inmemdb.NewFlightLogRepository(db), usrSvc, acSvc)
	m := metrics.New()

	// set up server
	app := NewServer(&Options{
		DisableReqLogs:  true,
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		Metrics:         m,
		UserSvc:         usrSvc,
		AircraftSvc:     acSvc,
		FlightLogSvc:    flSvc,
		BillingSvc:      billing.NewService(billRepo, billRepo, usrSvc, flSvc, mail, conf),
		VerificationSvc: verification.NewService(
			inmemdb.NewVerificationRepository(db), provider, usrSvc, mail, logger, conf,
		),
	})

	return &testEnv{
		conf:     conf,
		app:      app,
		usrRepo:  usrRepo,
		acRepo:   acRepo,
		invoices: billRepo,
		mail:     mail,
		provider: provider,
		metrics:  m,
	}
}

func (env *testEnv) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	env.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := GetUserClaims(conf, usr)
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

// jsonBytesEqual compares JSON documents; lists are compared regardless of order.
func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !(ok1 && ok2) {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runTests(t *testing.T, env *testEnv, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func fieldErrs(t *testing.T, kv ...string) []byte {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return marchallObj(t, m)
}
