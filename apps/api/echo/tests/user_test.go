package tests

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/aeroschool/apps/api/echo"
	"github.com/trezcool/aeroschool/core/user"
	testutil "github.com/trezcool/aeroschool/tests"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", "jane@aero.io", "Sup3r#Secret", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@aero.io", "Sup3r#Secret", []string{user.RoleStudent}, false)

	reqMsg := "this field is required"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "username", reqMsg, "password", reqMsg),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, LoginRequest{Username: "joe", Password: "Sup3r#Secret"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, LoginRequest{Username: "jane", Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", wantCode: http.StatusForbidden,
			body:     marchallObj(t, LoginRequest{Username: "ndog", Password: "Sup3r#Secret"}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", body: marchallObj(t, LoginRequest{Username: " JANE ", Password: "Sup3r#Secret"})},
		{name: "by email", body: marchallObj(t, LoginRequest{Username: "jane@aero.io", Password: "Sup3r#Secret"})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var resp LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)

				usr, err := env.usrRepo.GetUser(context.Background(), user.GetFilter{Username: "jane"})
				require.NoError(t, err)
				assert.False(t, usr.LastLogin.IsZero(), "last login not set")
			}
		})
	}
}

func Test_userApi_query(t *testing.T) {
	env := setup(t)

	path := func(search string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	noRole := testutil.CreateUser(t, env.usrRepo, "User", "awe", "awe@aero.io", "", nil, true)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "user3@aero.io", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@aero.io", "", []string{user.RoleAdmin}, true)
	owner := testutil.CreateUser(t, env.usrRepo, "Owner", "owner", "owner@aero.io", "", []string{user.RoleAdminOwner}, true)
	instructor := testutil.CreateUser(t, env.usrRepo, "Instructor", "cfi", "cfi@aero.io", "", []string{user.RoleInstructor}, true)
	naughty := testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@aero.io", "", []string{user.RoleStudent}, false)

	adminToken := getToken(t, env.conf, admin)
	runTests(t, env, []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, env.conf, student), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Get all", path: "/v1/users", token: adminToken,
			wantData: marchallList(t, noRole, student, admin, owner, instructor, naughty),
		},
		{name: "search (unknown)", path: path("lol", nil), token: adminToken, wantData: marchallList(t)},
		{name: "search=USE", path: path("USE", nil), token: adminToken, wantData: marchallList(t, noRole, student)},
		{name: "role (unknown)", path: path("", nil, "lol"), token: adminToken, wantData: marchallList(t)},
		{name: "role=admin:", path: path("", nil, user.RoleAdmin), token: adminToken, wantData: marchallList(t, admin, owner)},
		{
			name: "role=instructor:,student:", path: path("", nil, user.RoleInstructor, user.RoleStudent),
			token: adminToken, wantData: marchallList(t, instructor, student, naughty),
		},
		{name: "is_active=false", path: path("", bPtr(false)), token: adminToken, wantData: marchallList(t, naughty)},
		{name: "combo", path: path("own", bPtr(true), user.RoleAdmin), token: adminToken, wantData: marchallList(t, owner)},
		{name: "roles", path: "/v1/users/roles", token: adminToken, wantData: marchallObj(t, user.Roles)},
	})
}

func Test_userApi_queryOrdering(t *testing.T) {
	env := setup(t)
	now := time.Now()
	a := testutil.CreateUser(t, env.usrRepo, "Alpha", "alpha", "alpha@aero.io", "", nil, true, now.Add(2*time.Hour))
	b := testutil.CreateUser(t, env.usrRepo, "Bravo", "bravo", "bravo@aero.io", "", nil, false, now.Add(time.Hour))
	admin := testutil.CreateUser(t, env.usrRepo, "Zulu", "zulu", "zulu@aero.io", "", []string{user.RoleAdmin}, true, now)

	tests := []struct {
		ordering string
		want     []string
	}{
		{"created_at", []string{admin.ID, b.ID, a.ID}},
		{"-created_at", []string{a.ID, b.ID, admin.ID}},
		{"name", []string{a.ID, b.ID, admin.ID}},
		{"is_active,-name", []string{b.ID, admin.ID, a.ID}},
		{"-name,name,", []string{admin.ID, b.ID, a.ID}},
		{"created_at&created_from=" + now.Add(90*time.Minute).UTC().Format(time.RFC3339), []string{a.ID}},
		{"created_at&created_to=" + now.Add(90*time.Minute).UTC().Format(time.RFC3339), []string{admin.ID, b.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.ordering, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users?ordering="+tt.ordering, getToken(t, env.conf, admin))
			env.serve(req, rec)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var users []user.User
			unmarshal(t, rec, &users)
			ids := make([]string, 0, len(users))
			for _, u := range users {
				ids = append(ids, u.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	env := setup(t)
	naughty := testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@aero.io", "", []string{user.RoleStudent}, false)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "user3@aero.io", "", []string{user.RoleStudent}, true)

	now := time.Now()
	unrefreshableClaims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    env.conf.AppName,
			Subject:   student.ID,
			Audience:  "Aeroschool",
			ExpiresAt: now.Add(env.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * env.conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsStudent:    student.IsStudent(),
		Roles:        student.Roles,
	}
	unrefreshableToken, err := GenerateToken(env.conf, unrefreshableClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Inactive user not allowed", token: getToken(t, env.conf, naughty), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
		{name: "Token refreshed", token: getToken(t, env.conf, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.serve(req, rec)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var respData LoginResponse
				unmarshal(t, rec, &respData)
				assert.NotEmpty(t, respData.Token)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	env := setup(t)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "user3@aero.io", "Sup3r#Secret", []string{user.RoleStudent}, true)
	successData := marchallObj(t, SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: fieldErrs(t, "email", "this field is required")},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, PasswordResetRequest{Email: "lol"}),
			wantData: fieldErrs(t, "email", "email must be a valid email address"),
		},
		{
			name: "unknown email", body: marchallObj(t, PasswordResetRequest{Email: "lol@aero.io"}),
			wantData: successData, extra: false,
		},
		{
			name: "known email", body: marchallObj(t, PasswordResetRequest{Email: " USER3@aero.io"}),
			wantData: successData, extra: true,
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			env.mail.Reset()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)

			sent := env.mail.Sent()
			if emailSent, ok := tt.extra.(bool); ok && emailSent {
				require.Len(t, sent, 1)
				assert.Equal(t, student.Email, sent[0].To[0].Address)
				assert.Contains(t, sent[0].TextContent, student.Name)
				assert.Contains(t, sent[0].HTMLContent, "/password-reset/")
			} else {
				assert.Empty(t, sent)
			}
		})
	}
}

func Test_userApi_confirmPasswordReset(t *testing.T) {
	env := setup(t)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "user3@aero.io", "Sup3r#Secret", []string{user.RoleStudent}, true)

	// request a reset to get hold of a valid uid & token
	req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", marchallObj(t, PasswordResetRequest{Email: student.Email}))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	sent := env.mail.Sent()
	require.Len(t, sent, 1)
	data := sent[0].TemplateData.(map[string]interface{})
	uid, token := data["UID"].(string), data["Token"].(string)

	reqMsg := "this field is required"
	newPwd := "N3w#Password!"
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "token", reqMsg, "uid", reqMsg, "password", reqMsg, "password_confirm", reqMsg),
		},
		{
			name: "PasswordConfirm must = Password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.ResetUserPassword{Token: token, UID: uid, Password: newPwd, PasswordConfirm: "lol"}),
			wantData: fieldErrs(t, "password_confirm", "password_confirm must be equal to Password"),
		},
		{
			name: "invalid token", wantCode: http.StatusBadRequest,
			body: marchallObj(t, user.ResetUserPassword{Token: "HE4TS-sigsig", UID: uid, Password: newPwd, PasswordConfirm: newPwd}),
		},
		{
			name: "valid token",
			body: marchallObj(t, user.ResetUserPassword{Token: token, UID: uid, Password: newPwd, PasswordConfirm: newPwd}),
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been reset with the new password."}),
		},
		{
			name: "token is single use", wantCode: http.StatusBadRequest,
			body: marchallObj(t, user.ResetUserPassword{Token: token, UID: uid, Password: newPwd, PasswordConfirm: newPwd}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset-confirm"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}

	usr, err := env.usrRepo.GetUser(context.Background(), user.GetFilter{ID: student.ID})
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword(newPwd))
}

func Test_userApi_detail(t *testing.T) {
	env := setup(t)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@aero.io", "", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, env.usrRepo, "Other", "other", "other@aero.io", "", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@aero.io", "", []string{user.RoleAdmin}, true)
	owner := testutil.CreateUser(t, env.usrRepo, "Owner", "owner", "owner@aero.io", "", []string{user.RoleAdminOwner}, true)

	studentToken := getToken(t, env.conf, student)
	adminToken := getToken(t, env.conf, admin)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	renamed := student
	renamed.Name = "Hero Renamed"

	runTests(t, env, []httpTest{
		{name: "own profile", path: "/v1/users/" + student.ID, token: studentToken, wantData: marchallObj(t, student)},
		{name: "someone else's", path: "/v1/users/" + other.ID, token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "admin sees all", path: "/v1/users/" + other.ID, token: adminToken, wantData: marchallObj(t, other)},
		{name: "unknown", path: "/v1/users/nope", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "non admin cannot set roles", method: http.MethodPut, path: "/v1/users/" + student.ID, token: studentToken,
			body: []byte(`{"roles":["admin:"]}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "role above own", method: http.MethodPut, path: "/v1/users/" + student.ID, token: adminToken,
			body: []byte(`{"roles":["admin:owner"]}`), wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "roles", "not enough rights to set these roles"),
		},
		{
			name: "non admin deletes", method: http.MethodDelete, path: "/v1/users/" + other.ID, token: studentToken,
			wantCode: http.StatusNotFound, wantData: notFound,
		},
		{
			name: "admin deletes self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "admin deletes owner", method: http.MethodDelete, path: "/v1/users/" + owner.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{name: "admin deletes student", method: http.MethodDelete, path: "/v1/users/" + other.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/users/" + other.ID, token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
	})

	// update own name
	req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+student.ID, studentToken, []byte(`{"name":"Hero Renamed"}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got user.User
	unmarshal(t, rec, &got)
	assert.Equal(t, renamed.Name, got.Name)
	assert.Equal(t, "hero", got.Username, "a short stored username does not block updates")
	assert.True(t, strings.EqualFold(got.Email, student.Email))

	runTests(t, env, []httpTest{
		{
			name: "short username sent", method: http.MethodPut, path: "/v1/users/" + student.ID, token: studentToken,
			body: []byte(`{"username":"hro"}`), wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "username", "username must be at least 6 characters in length"),
		},
	})
}

func Test_userApi_create(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@aero.io", "", []string{user.RoleAdmin}, true)
	adminToken := getToken(t, env.conf, admin)

	body := func(uname, email string, roles ...string) []byte {
		return marchallObj(t, map[string]interface{}{
			"name": "New Student", "username": uname, "email": email,
			"password": "Sup3r#Secret!", "password_confirm": "Sup3r#Secret!", "roles": roles,
		})
	}

	tests := []httpTest{
		{name: "email taken", body: body("newbie", "admin@aero.io", user.RoleStudent), wantCode: http.StatusBadRequest},
		{
			name: "role above own", body: body("newbie", "newbie@aero.io", user.RoleAdminOwner), wantCode: http.StatusBadRequest,
			wantData: fieldErrs(t, "roles", "not enough rights to set these roles"),
		},
		{name: "created", body: body("newbie", "newbie@aero.io", user.RoleStudent), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"
		tt.token = adminToken

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				var usr user.User
				unmarshal(t, rec, &usr)
				assert.NotEmpty(t, usr.ID)
				assert.Equal(t, "newbie", usr.Username)
				assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
			}
		})
	}
}
