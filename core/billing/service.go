package billing

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/flightlog"
	"github.com/trezcool/aeroschool/core/user"
)

var (
	// errors
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")

	errBuyerRequired = "one of user_id or email is required"
	errUserNotFound  = "user not found"
)

type (
	Repository interface {
		CreateOrder(ctx context.Context, o PackageOrder) (PackageOrder, error)
		GetOrder(ctx context.Context, id string) (PackageOrder, error)
		UpdateOrder(ctx context.Context, o PackageOrder) (PackageOrder, error)
		QueryOrders(ctx context.Context, filter *OrderFilter) ([]PackageOrder, error)
		QueryInvoices(ctx context.Context, filter *InvoiceFilter) ([]Invoice, error)
		// PaidMinutes sums the minutes of the paid orders of the user, matched by user_id,
		// or by email for orders without user_id.
		PaidMinutes(ctx context.Context, userID, email string) (int, error)
		// ApplyLinks sets the proposed foreign keys that are still NULL and returns how many rows changed.
		ApplyLinks(ctx context.Context, proposals []LinkProposal) (int, error)
	}

	// SnapshotRepository loads the rows reconciliation works on.
	SnapshotRepository interface {
		Snapshot(ctx context.Context) (Snapshot, error)
	}

	Service interface {
		CreateOrder(ctx context.Context, no NewPackageOrder) (PackageOrder, error)
		GetOrder(ctx context.Context, id string) (PackageOrder, error)
		MarkPaid(ctx context.Context, id string) (PackageOrder, error)
		Cancel(ctx context.Context, id string) (PackageOrder, error)
		QueryOrders(ctx context.Context, filter *OrderFilter) ([]PackageOrder, error)
		QueryInvoices(ctx context.Context, filter *InvoiceFilter) ([]Invoice, error)
		Reconcile(ctx context.Context) (Report, error)
		Backfill(ctx context.Context, apply bool) (BackfillResult, error)
		Balance(ctx context.Context, userID string) (Balance, error)
	}

	service struct {
		repo        Repository
		snapRepo    SnapshotRepository
		userSvc     user.Service
		flightSvc   flightlog.Service
		mailSvc     core.EmailService
		matchWindow time.Duration
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	snapRepo SnapshotRepository,
	userSvc user.Service,
	flightSvc flightlog.Service,
	mailSvc core.EmailService,
	conf *core.Config,
) Service {
	return &service{
		repo:        repo,
		snapRepo:    snapRepo,
		userSvc:     userSvc,
		flightSvc:   flightSvc,
		mailSvc:     mailSvc,
		matchWindow: conf.MatchWindow,
	}
}

func (svc *service) CreateOrder(ctx context.Context, no NewPackageOrder) (PackageOrder, error) {
	o := PackageOrder{
		UserID:      no.UserID,
		Email:       no.Email,
		PackageName: no.PackageName,
		Minutes:     no.Minutes,
		AmountCents: no.AmountCents,
		Currency:    no.Currency,
		Status:      OrderPending,
		CreatedAt:   time.Now().UTC(),
	}

	var (
		usr user.User
		err error
	)
	if o.UserID != "" {
		usr, err = svc.userSvc.GetByID(ctx, o.UserID)
		if errors.Cause(err) == user.ErrNotFound {
			return PackageOrder{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: errUserNotFound})
		}
	} else {
		// guest orders keep the email only, until reconciliation links them
		usr, err = svc.userSvc.GetByEmail(ctx, o.Email)
		if errors.Cause(err) == user.ErrNotFound {
			err = nil
		}
	}
	if err != nil {
		return PackageOrder{}, errors.Wrap(err, "finding buyer")
	}
	if usr.ID != "" {
		o.UserID = usr.ID
		if o.Email == "" {
			o.Email = usr.Email
		}
	}
	return svc.repo.CreateOrder(ctx, o)
}

func (svc *service) GetOrder(ctx context.Context, id string) (PackageOrder, error) {
	return svc.repo.GetOrder(ctx, id)
}

func (svc *service) MarkPaid(ctx context.Context, id string) (PackageOrder, error) {
	o, err := svc.repo.GetOrder(ctx, id)
	if err != nil {
		return PackageOrder{}, err
	}
	if o.Status != OrderPending {
		return PackageOrder{}, core.NewValidationError(ErrOrderNotPending)
	}
	o.Status = OrderPaid
	o.PaidAt = time.Now().UTC()
	if o, err = svc.repo.UpdateOrder(ctx, o); err != nil {
		return PackageOrder{}, errors.Wrap(err, "updating order")
	}
	svc.sendOrderPaidMail(ctx, o)
	return o, nil
}

func (svc *service) sendOrderPaidMail(ctx context.Context, o PackageOrder) {
	if o.Email == "" {
		return
	}
	to := mail.Address{Address: o.Email}
	data := map[string]interface{}{
		"Name":        "",
		"PackageName": o.PackageName,
		"Hours":       formatHours(o.Minutes),
		"Balance":     "",
	}
	if o.UserID != "" {
		if usr, err := svc.userSvc.GetByID(ctx, o.UserID); err == nil {
			to.Name = usr.Name
			data["Name"] = usr.Name
		}
		if bal, err := svc.Balance(ctx, o.UserID); err == nil {
			data["Balance"] = formatHours(bal.RemainingMinutes)
		}
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      "Payment Received",
		TemplateName: "order_paid",
		TemplateData: data,
	})
}

func (svc *service) Cancel(ctx context.Context, id string) (PackageOrder, error) {
	o, err := svc.repo.GetOrder(ctx, id)
	if err != nil {
		return PackageOrder{}, err
	}
	if o.Status != OrderPending {
		return PackageOrder{}, core.NewValidationError(ErrOrderNotPending)
	}
	o.Status = OrderCancelled
	return svc.repo.UpdateOrder(ctx, o)
}

func (svc *service) QueryOrders(ctx context.Context, filter *OrderFilter) ([]PackageOrder, error) {
	return svc.repo.QueryOrders(ctx, filter)
}

func (svc *service) QueryInvoices(ctx context.Context, filter *InvoiceFilter) ([]Invoice, error) {
	return svc.repo.QueryInvoices(ctx, filter)
}

func (svc *service) Reconcile(ctx context.Context) (Report, error) {
	snap, err := svc.snapRepo.Snapshot(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "loading reconciliation snapshot")
	}
	return Reconcile(snap, svc.matchWindow, time.Now()), nil
}

func (svc *service) Backfill(ctx context.Context, apply bool) (BackfillResult, error) {
	report, err := svc.Reconcile(ctx)
	if err != nil {
		return BackfillResult{}, err
	}
	res := BackfillResult{Proposals: report.Proposals, DryRun: !apply}
	if !apply || len(report.Proposals) == 0 {
		return res, nil
	}
	if res.Applied, err = svc.repo.ApplyLinks(ctx, report.Proposals); err != nil {
		return BackfillResult{}, errors.Wrap(err, "applying links")
	}
	return res, nil
}

func (svc *service) Balance(ctx context.Context, userID string) (Balance, error) {
	usr, err := svc.userSvc.GetByID(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	paid, err := svc.repo.PaidMinutes(ctx, usr.ID, usr.Email)
	if err != nil {
		return Balance{}, errors.Wrap(err, "summing paid minutes")
	}
	totals, err := svc.flightSvc.Totals(ctx, usr.ID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		UserID:           usr.ID,
		PaidMinutes:      paid,
		FlownMinutes:     totals.TotalMinutes,
		RemainingMinutes: paid - totals.TotalMinutes,
	}, nil
}

func formatHours(minutes int) string {
	sign := ""
	if minutes < 0 {
		sign, minutes = "-", -minutes
	}
	return fmt.Sprintf("%s%d:%02d", sign, minutes/60, minutes%60)
}
