package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/aeroschool/core/billing"
)

const (
	orderColumns = `id, user_id, email, package_name, minutes, amount_cents, currency, status, invoice_id, created_at, paid_at`
	// currency is CHAR(3); trimmed for safety
	invoiceColumns = `i.id, i.number, i.client_id, i.amount_cents, TRIM(i.currency) AS currency, i.issued_at, i.status`
)

type orderRow struct {
	ID          string      `db:"id"`
	UserID      null.String `db:"user_id"`
	Email       string      `db:"email"`
	PackageName string      `db:"package_name"`
	Minutes     int         `db:"minutes"`
	AmountCents int64       `db:"amount_cents"`
	Currency    string      `db:"currency"`
	Status      string      `db:"status"`
	InvoiceID   null.String `db:"invoice_id"`
	CreatedAt   time.Time   `db:"created_at"`
	PaidAt      null.Time   `db:"paid_at"`
}

func newOrderRow(o billing.PackageOrder) orderRow {
	return orderRow{
		ID:          o.ID,
		UserID:      null.NewString(o.UserID, o.UserID != ""),
		Email:       o.Email,
		PackageName: o.PackageName,
		Minutes:     o.Minutes,
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
		Status:      o.Status,
		InvoiceID:   null.NewString(o.InvoiceID, o.InvoiceID != ""),
		CreatedAt:   o.CreatedAt.UTC(),
		PaidAt:      null.NewTime(o.PaidAt.UTC(), !o.PaidAt.IsZero()),
	}
}

func (row orderRow) order() billing.PackageOrder {
	o := billing.PackageOrder{
		ID:          row.ID,
		UserID:      row.UserID.String,
		Email:       row.Email,
		PackageName: row.PackageName,
		Minutes:     row.Minutes,
		AmountCents: row.AmountCents,
		Currency:    row.Currency,
		Status:      row.Status,
		InvoiceID:   row.InvoiceID.String,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.PaidAt.Valid {
		o.PaidAt = row.PaidAt.Time.UTC()
	}
	return o
}

type invoiceRow struct {
	ID          string    `db:"id"`
	Number      string    `db:"number"`
	ClientID    string    `db:"client_id"`
	AmountCents int64     `db:"amount_cents"`
	Currency    string    `db:"currency"`
	IssuedAt    time.Time `db:"issued_at"`
	Status      string    `db:"status"`
}

type billingRepository struct {
	db *sqlx.DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *sqlx.DB) billing.Repository {
	return &billingRepository{db: db}
}

func (repo billingRepository) CreateOrder(ctx context.Context, o billing.PackageOrder) (billing.PackageOrder, error) {
	o.ID = uuid.New().String()
	row := newOrderRow(o)
	q := `INSERT INTO package_order (` + orderColumns + `) VALUES (:id, :user_id, :email, :package_name, :minutes, ` +
		`:amount_cents, :currency, :status, :invoice_id, :created_at, :paid_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return billing.PackageOrder{}, errors.Wrap(err, "inserting order")
	}
	return row.order(), nil
}

func (repo billingRepository) GetOrder(ctx context.Context, id string) (billing.PackageOrder, error) {
	if !isUUID(id) {
		return billing.PackageOrder{}, billing.ErrOrderNotFound
	}
	var row orderRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM package_order WHERE id = $1`, id); err != nil {
		return billing.PackageOrder{}, trapNoRowsErr(err, billing.ErrOrderNotFound, "finding order")
	}
	return row.order(), nil
}

func (repo billingRepository) UpdateOrder(ctx context.Context, o billing.PackageOrder) (billing.PackageOrder, error) {
	row := newOrderRow(o)
	q := `UPDATE package_order SET user_id = :user_id, email = :email, status = :status, invoice_id = :invoice_id, ` +
		`paid_at = :paid_at WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return billing.PackageOrder{}, errors.Wrap(err, "updating order")
	}
	if err = checkAffected(res, billing.ErrOrderNotFound, "updating order"); err != nil {
		return billing.PackageOrder{}, err
	}
	return row.order(), nil
}

func (repo billingRepository) QueryOrders(ctx context.Context, filter *billing.OrderFilter) ([]billing.PackageOrder, error) {
	w := new(where)
	if filter != nil {
		if filter.UserID != "" {
			if !isUUID(filter.UserID) {
				return []billing.PackageOrder{}, nil
			}
			w.add("user_id = " + w.arg(filter.UserID))
		}
		if len(filter.Statuses) > 0 {
			w.add("status = ANY(" + w.arg(pq.Array(filter.Statuses)) + ")")
		}
	}

	var rows []orderRow
	q := `SELECT ` + orderColumns + ` FROM package_order` + w.String() + ` ORDER BY created_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying orders")
	}
	orders := make([]billing.PackageOrder, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.order())
	}
	return orders, nil
}

func (repo billingRepository) QueryInvoices(ctx context.Context, filter *billing.InvoiceFilter) ([]billing.Invoice, error) {
	w := new(where)
	if filter != nil {
		for _, id := range []string{filter.ClientID, filter.UserID} {
			if id != "" && !isUUID(id) {
				return []billing.Invoice{}, nil
			}
		}
		if filter.ClientID != "" {
			w.add("i.client_id = " + w.arg(filter.ClientID))
		}
		if filter.UserID != "" {
			w.add("c.user_id = " + w.arg(filter.UserID))
		}
	}

	var rows []invoiceRow
	q := `SELECT ` + invoiceColumns + ` FROM invoice i JOIN invoice_client c ON c.id = i.client_id` + w.String() +
		` ORDER BY i.issued_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying invoices")
	}
	invoices := make([]billing.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, billing.Invoice{
			ID:          row.ID,
			Number:      row.Number,
			ClientID:    row.ClientID,
			AmountCents: row.AmountCents,
			Currency:    row.Currency,
			IssuedAt:    row.IssuedAt.UTC(),
			Status:      row.Status,
		})
	}
	return invoices, nil
}

func (repo billingRepository) PaidMinutes(ctx context.Context, userID, email string) (int, error) {
	if !isUUID(userID) {
		return 0, nil
	}
	var minutes int
	q := `SELECT COALESCE(SUM(minutes), 0) FROM package_order WHERE status = $1 ` +
		`AND (user_id = $2 OR (user_id IS NULL AND $3 <> '' AND LOWER(email) = LOWER($3)))`
	err := repo.db.GetContext(ctx, &minutes, q, billing.OrderPaid, userID, email)
	return minutes, errors.Wrap(err, "summing paid minutes")
}

var linkQueries = map[[2]string]string{
	{billing.TableOrder, billing.ColumnUserID}:    `UPDATE package_order SET user_id = $2 WHERE id = $1 AND user_id IS NULL`,
	{billing.TableOrder, billing.ColumnInvoiceID}: `UPDATE package_order SET invoice_id = $2 WHERE id = $1 AND invoice_id IS NULL`,
	{billing.TableClient, billing.ColumnUserID}:   `UPDATE invoice_client SET user_id = $2 WHERE id = $1 AND user_id IS NULL`,
}

func (repo billingRepository) ApplyLinks(ctx context.Context, proposals []billing.LinkProposal) (_ int, err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var n int64
	for _, p := range proposals {
		q, ok := linkQueries[[2]string{p.Table, p.Column}]
		if !ok {
			return 0, errors.Errorf("unknown link %s.%s", p.Table, p.Column)
		}
		res, err := tx.ExecContext(ctx, q, p.RowID, p.Value)
		if err != nil {
			return 0, errors.Wrapf(err, "linking %s %s", p.Table, p.RowID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "linking")
		}
		n += affected
	}
	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing links")
	}
	return int(n), nil
}
