package boiledrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/aeroschool/core/billing"
)

func TestSnapshotRepository_Snapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	issued := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	paid := issued.Add(48 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "user"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow("u1", "jane@aero.io"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM invoice_client`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "tax_id", "user_id"}).
			AddRow("c1", "Jane Doe", "JANE@aero.io", "", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM invoice`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "client_id", "amount_cents", "currency", "issued_at", "status"}).
			AddRow("i1", "F-2026-001", "c1", 150000, "USD", issued, billing.InvoiceIssued))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM package_order`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "email", "package_name", "minutes", "amount_cents", "currency", "status", "invoice_id",
			"created_at", "paid_at",
		}).
			AddRow("o1", "u1", "", "10h PPL", 600, 150000, "USD", billing.OrderPaid, nil, issued, paid).
			AddRow("o2", nil, "guest@aero.io", "5h PPL", 300, 80000, "USD", billing.OrderPending, nil, issued, nil))

	snap, err := NewSnapshotRepository(db).Snapshot(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []billing.UserRef{{ID: "u1", Email: "jane@aero.io"}}, snap.Users)
	require.Len(t, snap.Clients, 1)
	assert.Equal(t, "", snap.Clients[0].UserID)
	require.Len(t, snap.Invoices, 1)
	assert.Equal(t, int64(150000), snap.Invoices[0].AmountCents)
	require.Len(t, snap.Orders, 2)
	assert.Equal(t, "u1", snap.Orders[0].UserID)
	assert.Equal(t, paid, snap.Orders[0].PaidAt)
	assert.Equal(t, "", snap.Orders[1].UserID)
	assert.True(t, snap.Orders[1].PaidAt.IsZero())
}
