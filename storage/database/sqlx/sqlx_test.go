package sqlxrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/aeroschool/core/billing"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
)

const (
	userID     = "7f1b9a4e-2c57-4db8-9f0e-6a1f0c3c2d11"
	aircraftID = "0c6d3c8e-93a4-4c61-8b8e-52f1e9f4a7b2"
	orderID    = "b3a4e1f2-1d8c-4f4b-9a2e-8c0d7e6f5a43"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestWhere(t *testing.T) {
	w := new(where)
	assert.Equal(t, "", w.String())

	w.add("a = " + w.arg(1))
	w.add("(b = " + w.arg("x") + " OR c = " + w.arg("y") + ")")
	assert.Equal(t, " WHERE a = $1 AND (b = $2 OR c = $3)", w.String())
	assert.Equal(t, []interface{}{1, "x", "y"}, w.args)
}

func TestUserRepository_GetUser(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("invalid id", func(t *testing.T) {
		db, mock := newMockDB(t)
		_, err := NewUserRepository(db).GetUser(ctx, user.GetFilter{ID: "nope"})
		assert.Equal(t, user.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM "user" WHERE email = $1 LIMIT 1`)).
			WithArgs("jane@aero.io").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewUserRepository(db).GetUser(ctx, user.GetFilter{Email: "jane@aero.io"})
		assert.Equal(t, user.ErrNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		rows := sqlmock.NewRows([]string{
			"id", "name", "username", "email", "phone", "is_active", "roles", "password_hash",
			"verification_status", "created_at", "updated_at", "last_login",
		}).AddRow(userID, "Jane", "jane_doe", "jane@aero.io", "", true, "{student:}", nil, "approved", now, now, nil)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM "user" WHERE (username = $1 OR email = $1) LIMIT 1`)).
			WithArgs("jane_doe").
			WillReturnRows(rows)

		usr, err := NewUserRepository(db).GetUser(ctx, user.GetFilter{UsernameOrEmail: "jane_doe"})
		require.NoError(t, err)
		assert.Equal(t, userID, usr.ID)
		assert.Equal(t, "jane@aero.io", usr.Email)
		assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
		assert.True(t, usr.Active())
		assert.True(t, usr.LastLogin.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_CheckUsernameUniqueness(t *testing.T) {
	ctx := context.Background()
	cols := []string{"id", "name", "username", "email", "phone", "is_active", "roles", "password_hash",
		"verification_status", "created_at", "updated_at", "last_login"}
	now := time.Now().UTC()

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{"unique", sqlmock.NewRows(cols), nil},
		{
			"username taken",
			sqlmock.NewRows(cols).AddRow(userID, "Jane", "jane_doe", "other@aero.io", "", true, "{}", nil, "unverified", now, now, nil),
			user.ErrUsernameExists,
		},
		{
			"email taken",
			sqlmock.NewRows(cols).AddRow(userID, "Jane", nil, "jane@aero.io", "", true, "{}", nil, "unverified", now, now, nil),
			user.ErrEmailExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(regexp.QuoteMeta(`WHERE (username = $1 OR email = $2) LIMIT 2`)).WillReturnRows(tt.rows)

			err := NewUserRepository(db).CheckUsernameUniqueness(ctx, "jane_doe", "jane@aero.io")
			assert.Equal(t, tt.wantErr, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFlightLogRepository_CreateFlightLog(t *testing.T) {
	ctx := context.Background()
	fl := flightlog.FlightLog{
		PilotID:          userID,
		AircraftID:       aircraftID,
		FlightDate:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		DepartureAirport: "FZAA",
		ArrivalAirport:   "FZAA",
		HobbsStart:       600,
		HobbsEnd:         690,
		Landings:         3,
		Kind:             flightlog.KindSolo,
	}
	advanceMeter := regexp.QuoteMeta(`UPDATE aircraft SET hobbs_minutes = $2, updated_at = $3 WHERE id = $1 AND hobbs_minutes <= $4`)

	t.Run("committed", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(advanceMeter).
			WithArgs(aircraftID, 690, sqlmock.AnyArg(), 600).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO flight_log`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		created, err := NewFlightLogRepository(db).CreateFlightLog(ctx, fl)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, 90, created.DurationMinutes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("meter moved past hobbs start", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(advanceMeter).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := NewFlightLogRepository(db).CreateFlightLog(ctx, fl)
		assert.Equal(t, flightlog.ErrHobbsConflict, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(advanceMeter).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO flight_log`)).WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		_, err := NewFlightLogRepository(db).CreateFlightLog(ctx, fl)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVerificationRepository_CreateEvent(t *testing.T) {
	ctx := context.Background()
	ev := verification.WebhookEvent{
		Kind:     verification.KindDecision,
		DedupKey: "decision:sess-1:9001:att-1",
		Payload:  []byte(`{"status":"success"}`),
		State:    verification.StateReceived,
	}
	insert := regexp.QuoteMeta(`INSERT INTO webhook_event`) + `.*` + regexp.QuoteMeta(`ON CONFLICT (dedup_key) DO NOTHING`)

	t.Run("new", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 1))

		stored, created, err := NewVerificationRepository(db).CreateEvent(ctx, ev)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, stored.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		now := time.Now().UTC()
		mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM webhook_event WHERE dedup_key = $1`)).
			WithArgs(ev.DedupKey).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "kind", "dedup_key", "provider_session_id", "vendor_data", "code", "action", "payload",
				"signature_valid", "state", "attempts", "last_error", "received_at", "processed_at",
			}).AddRow(orderID, ev.Kind, ev.DedupKey, "sess-1", userID, 9001, "", []byte(`{"status":"success"}`),
				true, verification.StateProcessed, 1, "", now, now))

		stored, created, err := NewVerificationRepository(db).CreateEvent(ctx, ev)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, orderID, stored.ID)
		assert.Equal(t, verification.StateProcessed, stored.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBillingRepository_ApplyLinks(t *testing.T) {
	ctx := context.Background()
	proposals := []billing.LinkProposal{
		{Table: billing.TableOrder, RowID: orderID, Column: billing.ColumnUserID, Value: userID},
		{Table: billing.TableClient, RowID: aircraftID, Column: billing.ColumnUserID, Value: userID},
	}

	t.Run("applied", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE package_order SET user_id = $2 WHERE id = $1 AND user_id IS NULL`)).
			WithArgs(orderID, userID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// already linked by someone else
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE invoice_client SET user_id = $2 WHERE id = $1 AND user_id IS NULL`)).
			WithArgs(aircraftID, userID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		n, err := NewBillingRepository(db).ApplyLinks(ctx, proposals)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown link", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := NewBillingRepository(db).ApplyLinks(ctx, []billing.LinkProposal{{Table: "invoice", Column: "number"}})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBillingRepository_PaidMinutes(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(minutes), 0) FROM package_order`)).
		WithArgs(billing.OrderPaid, userID, "jane@aero.io").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(600))

	minutes, err := NewBillingRepository(db).PaidMinutes(context.Background(), userID, "jane@aero.io")
	require.NoError(t, err)
	assert.Equal(t, 600, minutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
