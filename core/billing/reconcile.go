package billing

import (
	"sort"
	"strings"
	"time"
)

// Match reasons
const (
	MatchByInvoiceID = "invoice_id"
	MatchByAmount    = "amount_window"
)

// Link proposal tables & columns
const (
	TableOrder  = "package_order"
	TableClient = "invoice_client"

	ColumnUserID    = "user_id"
	ColumnInvoiceID = "invoice_id"
)

type (
	// UserRef is the part of a User reconciliation attributes rows with.
	UserRef struct {
		ID    string
		Email string
	}

	// Snapshot holds every row reconciliation looks at.
	Snapshot struct {
		Users    []UserRef
		Clients  []InvoiceClient
		Invoices []Invoice
		Orders   []PackageOrder
	}

	CurrencyTotals struct {
		OrderedCents  int64 `json:"ordered_cents"`
		PaidCents     int64 `json:"paid_cents"`
		InvoicedCents int64 `json:"invoiced_cents"`
	}

	UserTotals struct {
		UserID     string                    `json:"user_id"`
		Email      string                    `json:"email"`
		Currencies map[string]CurrencyTotals `json:"currencies"`
	}

	Match struct {
		OrderID     string `json:"order_id"`
		InvoiceID   string `json:"invoice_id"`
		UserID      string `json:"user_id"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
		By          string `json:"by"`
	}

	// LinkProposal is a foreign key Backfill can set: Table.Column = Value WHERE id = RowID.
	LinkProposal struct {
		Table  string `json:"table"`
		RowID  string `json:"row_id"`
		Column string `json:"column"`
		Value  string `json:"value"`
		Reason string `json:"reason"`
	}

	Report struct {
		GeneratedAt       time.Time      `json:"generated_at"`
		MatchWindow       string         `json:"match_window"`
		Users             []UserTotals   `json:"users"`
		Matches           []Match        `json:"matches"`
		UninvoicedOrders  []PackageOrder `json:"uninvoiced_orders"`
		UnmatchedInvoices []Invoice      `json:"unmatched_invoices"`
		OrphanOrders      []PackageOrder `json:"orphan_orders"`
		OrphanInvoices    []Invoice      `json:"orphan_invoices"`
		Proposals         []LinkProposal `json:"proposals"`
	}

	// BackfillResult is the outcome of a Backfill run; Applied is 0 on dry runs.
	BackfillResult struct {
		Proposals []LinkProposal `json:"proposals"`
		Applied   int            `json:"applied"`
		DryRun    bool           `json:"dry_run"`
	}
)

// reconciler attributes orders & invoices to users and matches them.
type reconciler struct {
	window       time.Duration
	usersByID    map[string]UserRef
	usersByEmail map[string]UserRef
	clientsByID  map[string]InvoiceClient
	invoicesByID map[string]Invoice
	totals       map[string]*UserTotals
	report       Report
}

// Reconcile builds the reconciliation Report of a Snapshot.
// Paid orders are matched to invoices through their invoice_id, else through the same user,
// amount & currency with an invoice issued within window of the payment. An invoice matches one order at most.
func Reconcile(snap Snapshot, window time.Duration, now time.Time) Report {
	r := &reconciler{
		window:       window,
		usersByID:    make(map[string]UserRef, len(snap.Users)),
		usersByEmail: make(map[string]UserRef, len(snap.Users)),
		clientsByID:  make(map[string]InvoiceClient, len(snap.Clients)),
		invoicesByID: make(map[string]Invoice, len(snap.Invoices)),
		totals:       make(map[string]*UserTotals),
		report: Report{
			GeneratedAt:       now.UTC(),
			MatchWindow:       window.String(),
			Users:             []UserTotals{},
			Matches:           []Match{},
			UninvoicedOrders:  []PackageOrder{},
			UnmatchedInvoices: []Invoice{},
			OrphanOrders:      []PackageOrder{},
			OrphanInvoices:    []Invoice{},
			Proposals:         []LinkProposal{},
		},
	}
	for _, u := range snap.Users {
		r.usersByID[u.ID] = u
		if email := normEmail(u.Email); email != "" {
			r.usersByEmail[email] = u
		}
	}
	for _, c := range snap.Clients {
		r.clientsByID[c.ID] = c
	}
	for _, inv := range snap.Invoices {
		r.invoicesByID[inv.ID] = inv
	}

	r.proposeClientLinks(snap.Clients)
	invoicesByUser := r.attributeInvoices(snap.Invoices)
	paid := r.attributeOrders(snap.Orders)
	r.match(paid, invoicesByUser)
	r.finish()
	return r.report
}

func (r *reconciler) resolve(userID, email string) (usr UserRef, byEmail, ok bool) {
	if userID != "" {
		usr, ok = r.usersByID[userID]
		return usr, false, ok
	}
	usr, ok = r.usersByEmail[normEmail(email)]
	return usr, ok, ok
}

func (r *reconciler) userTotals(usr UserRef, currency string) (*UserTotals, CurrencyTotals) {
	ut, ok := r.totals[usr.ID]
	if !ok {
		ut = &UserTotals{UserID: usr.ID, Email: usr.Email, Currencies: make(map[string]CurrencyTotals)}
		r.totals[usr.ID] = ut
	}
	return ut, ut.Currencies[currency]
}

func (r *reconciler) proposeClientLinks(clients []InvoiceClient) {
	for _, c := range clients {
		if usr, byEmail, ok := r.resolve(c.UserID, c.Email); ok && byEmail {
			r.report.Proposals = append(r.report.Proposals, LinkProposal{
				Table: TableClient, RowID: c.ID, Column: ColumnUserID, Value: usr.ID, Reason: "email " + normEmail(c.Email),
			})
		}
	}
}

// attributeInvoices returns the matchable (non void) invoices per user.
func (r *reconciler) attributeInvoices(invoices []Invoice) map[string][]Invoice {
	byUser := make(map[string][]Invoice)
	for _, inv := range invoices {
		if inv.Status == InvoiceVoid {
			continue
		}
		c := r.clientsByID[inv.ClientID]
		usr, _, ok := r.resolve(c.UserID, c.Email)
		if !ok {
			r.report.OrphanInvoices = append(r.report.OrphanInvoices, inv)
			continue
		}
		ut, ct := r.userTotals(usr, inv.Currency)
		ct.InvoicedCents += inv.AmountCents
		ut.Currencies[inv.Currency] = ct
		byUser[usr.ID] = append(byUser[usr.ID], inv)
	}
	return byUser
}

type attributedOrder struct {
	PackageOrder
	owner string
}

// attributeOrders returns the paid orders attributed to a user.
func (r *reconciler) attributeOrders(orders []PackageOrder) []attributedOrder {
	var paid []attributedOrder
	for _, o := range orders {
		if o.Status == OrderCancelled {
			continue
		}
		usr, byEmail, ok := r.resolve(o.UserID, o.Email)
		if !ok {
			r.report.OrphanOrders = append(r.report.OrphanOrders, o)
			continue
		}
		if byEmail {
			r.report.Proposals = append(r.report.Proposals, LinkProposal{
				Table: TableOrder, RowID: o.ID, Column: ColumnUserID, Value: usr.ID, Reason: "email " + normEmail(o.Email),
			})
		}

		ut, ct := r.userTotals(usr, o.Currency)
		ct.OrderedCents += o.AmountCents
		if o.Status == OrderPaid {
			ct.PaidCents += o.AmountCents
			paid = append(paid, attributedOrder{PackageOrder: o, owner: usr.ID})
		}
		ut.Currencies[o.Currency] = ct
	}
	sort.SliceStable(paid, func(i, j int) bool {
		if !paid[i].PaidAt.Equal(paid[j].PaidAt) {
			return paid[i].PaidAt.Before(paid[j].PaidAt)
		}
		return paid[i].ID < paid[j].ID
	})
	return paid
}

func (r *reconciler) match(paid []attributedOrder, invoicesByUser map[string][]Invoice) {
	used := make(map[string]bool)
	matched := make(map[string]bool)

	// explicit links first
	for _, o := range paid {
		inv, ok := r.invoicesByID[o.InvoiceID]
		if o.InvoiceID == "" || !ok || inv.Status == InvoiceVoid || used[inv.ID] {
			continue
		}
		used[inv.ID], matched[o.ID] = true, true
		r.report.Matches = append(r.report.Matches, Match{
			OrderID: o.ID, InvoiceID: inv.ID, UserID: o.owner, AmountCents: o.AmountCents, Currency: o.Currency, By: MatchByInvoiceID,
		})
	}

	// then same user, amount & currency; the closest invoice within the window wins
	for _, o := range paid {
		if matched[o.ID] {
			continue
		}
		var (
			best     Invoice
			bestDist time.Duration = -1
		)
		for _, inv := range invoicesByUser[o.owner] {
			if used[inv.ID] || inv.AmountCents != o.AmountCents || inv.Currency != o.Currency {
				continue
			}
			dist := absDuration(inv.IssuedAt.Sub(o.PaidAt))
			if dist > r.window {
				continue
			}
			if bestDist < 0 || dist < bestDist || (dist == bestDist && inv.Number < best.Number) {
				best, bestDist = inv, dist
			}
		}
		if bestDist < 0 {
			r.report.UninvoicedOrders = append(r.report.UninvoicedOrders, o.PackageOrder)
			continue
		}
		used[best.ID], matched[o.ID] = true, true
		r.report.Matches = append(r.report.Matches, Match{
			OrderID: o.ID, InvoiceID: best.ID, UserID: o.owner, AmountCents: o.AmountCents, Currency: o.Currency, By: MatchByAmount,
		})
		// an existing (void, unknown or shared) link is reported through the match only; backfill never overwrites it
		if o.InvoiceID == "" {
			r.report.Proposals = append(r.report.Proposals, LinkProposal{
				Table: TableOrder, RowID: o.ID, Column: ColumnInvoiceID, Value: best.ID, Reason: "invoice " + best.Number,
			})
		}
	}

	for _, invs := range invoicesByUser {
		for _, inv := range invs {
			if !used[inv.ID] {
				r.report.UnmatchedInvoices = append(r.report.UnmatchedInvoices, inv)
			}
		}
	}
}

// finish sorts the report for stable output.
func (r *reconciler) finish() {
	for _, ut := range r.totals {
		r.report.Users = append(r.report.Users, *ut)
	}
	sort.Slice(r.report.Users, func(i, j int) bool { return r.report.Users[i].UserID < r.report.Users[j].UserID })
	sort.Slice(r.report.UnmatchedInvoices, func(i, j int) bool {
		return r.report.UnmatchedInvoices[i].Number < r.report.UnmatchedInvoices[j].Number
	})
	sort.Slice(r.report.OrphanInvoices, func(i, j int) bool {
		return r.report.OrphanInvoices[i].Number < r.report.OrphanInvoices[j].Number
	})
	sort.SliceStable(r.report.Proposals, func(i, j int) bool {
		pi, pj := r.report.Proposals[i], r.report.Proposals[j]
		if pi.Table != pj.Table {
			return pi.Table < pj.Table
		}
		return pi.RowID < pj.RowID
	})
}

func normEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
