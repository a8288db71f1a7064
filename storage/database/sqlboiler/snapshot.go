// Package boiledrepos holds the read-heavy repositories built on sqlboiler's raw query binding.
package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/billing"
)

type (
	userRef struct {
		ID    string `boil:"id"`
		Email string `boil:"email"`
	}

	clientRow struct {
		ID     string      `boil:"id"`
		Name   string      `boil:"name"`
		Email  string      `boil:"email"`
		TaxID  string      `boil:"tax_id"`
		UserID null.String `boil:"user_id"`
	}

	invoiceRow struct {
		ID          string    `boil:"id"`
		Number      string    `boil:"number"`
		ClientID    string    `boil:"client_id"`
		AmountCents int64     `boil:"amount_cents"`
		Currency    string    `boil:"currency"`
		IssuedAt    time.Time `boil:"issued_at"`
		Status      string    `boil:"status"`
	}

	orderRow struct {
		ID          string      `boil:"id"`
		UserID      null.String `boil:"user_id"`
		Email       string      `boil:"email"`
		PackageName string      `boil:"package_name"`
		Minutes     int         `boil:"minutes"`
		AmountCents int64       `boil:"amount_cents"`
		Currency    string      `boil:"currency"`
		Status      string      `boil:"status"`
		InvoiceID   null.String `boil:"invoice_id"`
		CreatedAt   time.Time   `boil:"created_at"`
		PaidAt      null.Time   `boil:"paid_at"`
	}
)

const (
	snapshotUsersQuery    = `SELECT id, COALESCE(email, '') AS email FROM "user"`
	snapshotClientsQuery  = `SELECT id, name, email, tax_id, user_id FROM invoice_client`
	snapshotInvoicesQuery = `SELECT id, number, client_id, amount_cents, TRIM(currency) AS currency, issued_at, status FROM invoice`
	snapshotOrdersQuery   = `SELECT id, user_id, email, package_name, minutes, amount_cents, TRIM(currency) AS currency, ` +
		`status, invoice_id, created_at, paid_at FROM package_order`
)

type snapshotRepository struct {
	exec core.DBExecutor
}

var _ billing.SnapshotRepository = (*snapshotRepository)(nil) // interface compliance check

func NewSnapshotRepository(exec core.DBExecutor) billing.SnapshotRepository {
	return &snapshotRepository{exec: exec}
}

// Snapshot loads every row reconciliation needs. Ordering is left to billing.Reconcile.
func (repo snapshotRepository) Snapshot(ctx context.Context) (billing.Snapshot, error) {
	var (
		users    []userRef
		clients  []clientRow
		invoices []invoiceRow
		orders   []orderRow
	)
	if err := queries.Raw(snapshotUsersQuery).Bind(ctx, repo.exec, &users); err != nil {
		return billing.Snapshot{}, errors.Wrap(err, "loading users")
	}
	if err := queries.Raw(snapshotClientsQuery).Bind(ctx, repo.exec, &clients); err != nil {
		return billing.Snapshot{}, errors.Wrap(err, "loading invoice clients")
	}
	if err := queries.Raw(snapshotInvoicesQuery).Bind(ctx, repo.exec, &invoices); err != nil {
		return billing.Snapshot{}, errors.Wrap(err, "loading invoices")
	}
	if err := queries.Raw(snapshotOrdersQuery).Bind(ctx, repo.exec, &orders); err != nil {
		return billing.Snapshot{}, errors.Wrap(err, "loading orders")
	}

	snap := billing.Snapshot{
		Users:    make([]billing.UserRef, 0, len(users)),
		Clients:  make([]billing.InvoiceClient, 0, len(clients)),
		Invoices: make([]billing.Invoice, 0, len(invoices)),
		Orders:   make([]billing.PackageOrder, 0, len(orders)),
	}
	for _, u := range users {
		snap.Users = append(snap.Users, billing.UserRef{ID: u.ID, Email: u.Email})
	}
	for _, c := range clients {
		snap.Clients = append(snap.Clients, billing.InvoiceClient{
			ID:     c.ID,
			Name:   c.Name,
			Email:  c.Email,
			TaxID:  c.TaxID,
			UserID: c.UserID.String,
		})
	}
	for _, i := range invoices {
		snap.Invoices = append(snap.Invoices, billing.Invoice{
			ID:          i.ID,
			Number:      i.Number,
			ClientID:    i.ClientID,
			AmountCents: i.AmountCents,
			Currency:    i.Currency,
			IssuedAt:    i.IssuedAt.UTC(),
			Status:      i.Status,
		})
	}
	for _, o := range orders {
		order := billing.PackageOrder{
			ID:          o.ID,
			UserID:      o.UserID.String,
			Email:       o.Email,
			PackageName: o.PackageName,
			Minutes:     o.Minutes,
			AmountCents: o.AmountCents,
			Currency:    o.Currency,
			Status:      o.Status,
			InvoiceID:   o.InvoiceID.String,
			CreatedAt:   o.CreatedAt.UTC(),
		}
		if o.PaidAt.Valid {
			order.PaidAt = o.PaidAt.Time.UTC()
		}
		snap.Orders = append(snap.Orders, order)
	}
	return snap, nil
}
