package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/aeroschool/core/billing"
)

type billingRepository struct {
	db *DB
}

var (
	_ billing.Repository         = (*billingRepository)(nil) // interface compliance check
	_ billing.SnapshotRepository = (*billingRepository)(nil)
)

func NewBillingRepository(db *DB) *billingRepository {
	return &billingRepository{db: db}
}

// AddInvoiceClient & AddInvoice seed the legacy invoicing tables, which the app only reads.
func (repo *billingRepository) AddInvoiceClient(c billing.InvoiceClient) billing.InvoiceClient {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if c.ID == "" {
		c.ID = newID()
	}
	repo.db.clients[c.ID] = &c
	return c
}

func (repo *billingRepository) AddInvoice(inv billing.Invoice) billing.Invoice {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if inv.ID == "" {
		inv.ID = newID()
	}
	if inv.Status == "" {
		inv.Status = billing.InvoiceIssued
	}
	repo.db.invoices[inv.ID] = &inv
	return inv
}

func (repo *billingRepository) CreateOrder(_ context.Context, o billing.PackageOrder) (billing.PackageOrder, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if o.ID == "" {
		o.ID = newID()
	}
	repo.db.orders[o.ID] = &o
	return o, nil
}

func (repo *billingRepository) GetOrder(_ context.Context, id string) (billing.PackageOrder, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if o, ok := repo.db.orders[id]; ok {
		return *o, nil
	}
	return billing.PackageOrder{}, billing.ErrOrderNotFound
}

func (repo *billingRepository) UpdateOrder(_ context.Context, o billing.PackageOrder) (billing.PackageOrder, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.orders[o.ID]; !ok {
		return billing.PackageOrder{}, billing.ErrOrderNotFound
	}
	repo.db.orders[o.ID] = &o
	return o, nil
}

func (repo *billingRepository) QueryOrders(_ context.Context, filter *billing.OrderFilter) ([]billing.PackageOrder, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	orders := make([]billing.PackageOrder, 0, len(repo.db.orders))
	for _, o := range repo.db.orders {
		if filter != nil {
			if filter.UserID != "" && o.UserID != filter.UserID {
				continue
			}
			if len(filter.Statuses) > 0 && !contains(filter.Statuses, o.Status) {
				continue
			}
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (repo *billingRepository) QueryInvoices(_ context.Context, filter *billing.InvoiceFilter) ([]billing.Invoice, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	invoices := make([]billing.Invoice, 0, len(repo.db.invoices))
	for _, inv := range repo.db.invoices {
		if filter != nil {
			if filter.ClientID != "" && inv.ClientID != filter.ClientID {
				continue
			}
			if c := repo.db.clients[inv.ClientID]; filter.UserID != "" && (c == nil || c.UserID != filter.UserID) {
				continue
			}
		}
		invoices = append(invoices, *inv)
	}
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].IssuedAt.After(invoices[j].IssuedAt) })
	return invoices, nil
}

func (repo *billingRepository) PaidMinutes(_ context.Context, userID, email string) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var minutes int
	for _, o := range repo.db.orders {
		if o.Status != billing.OrderPaid {
			continue
		}
		if o.UserID == userID || (o.UserID == "" && email != "" && strings.EqualFold(o.Email, email)) {
			minutes += o.Minutes
		}
	}
	return minutes, nil
}

func (repo *billingRepository) ApplyLinks(_ context.Context, proposals []billing.LinkProposal) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var n int
	for _, p := range proposals {
		switch {
		case p.Table == billing.TableOrder && p.Column == billing.ColumnUserID:
			if o, ok := repo.db.orders[p.RowID]; ok && o.UserID == "" {
				o.UserID = p.Value
				n++
			}
		case p.Table == billing.TableOrder && p.Column == billing.ColumnInvoiceID:
			if o, ok := repo.db.orders[p.RowID]; ok && o.InvoiceID == "" {
				o.InvoiceID = p.Value
				n++
			}
		case p.Table == billing.TableClient && p.Column == billing.ColumnUserID:
			if c, ok := repo.db.clients[p.RowID]; ok && c.UserID == "" {
				c.UserID = p.Value
				n++
			}
		}
	}
	return n, nil
}

func (repo *billingRepository) Snapshot(_ context.Context) (billing.Snapshot, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var snap billing.Snapshot
	for _, u := range repo.db.users {
		snap.Users = append(snap.Users, billing.UserRef{ID: u.ID, Email: u.Email})
	}
	for _, c := range repo.db.clients {
		snap.Clients = append(snap.Clients, *c)
	}
	for _, inv := range repo.db.invoices {
		snap.Invoices = append(snap.Invoices, *inv)
	}
	for _, o := range repo.db.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].CreatedAt.Before(snap.Orders[j].CreatedAt) })
	sort.Slice(snap.Invoices, func(i, j int) bool { return snap.Invoices[i].IssuedAt.Before(snap.Invoices[j].IssuedAt) })
	return snap, nil
}
