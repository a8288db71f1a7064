package billing

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/aeroschool/core"
)

// Invoice statuses
const (
	InvoiceIssued = "issued"
	InvoicePaid   = "paid"
	InvoiceVoid   = "void"
)

// Order statuses
const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderCancelled = "cancelled"
)

// InvoiceClient is a customer of the fiscal invoicing system.
// UserID was added after the fact and is often missing.
type InvoiceClient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	TaxID  string `json:"tax_id"`
	UserID string `json:"user_id,omitempty"`
}

// Invoice is a fiscal invoice.
type Invoice struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	ClientID    string    `json:"client_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	IssuedAt    time.Time `json:"issued_at"` // UTC
	Status      string    `json:"status"`
}

// PackageOrder is a flight-time package bought by a student.
type PackageOrder struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Email       string    `json:"email"`
	PackageName string    `json:"package_name"`
	Minutes     int       `json:"minutes"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	InvoiceID   string    `json:"invoice_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	PaidAt      time.Time `json:"paid_at"`    // UTC
}

// NewPackageOrder contains information needed to place a PackageOrder.
// One of UserID or Email identifies the buyer.
type NewPackageOrder struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email" validate:"omitempty,email"`
	PackageName string `json:"package_name" validate:"required,notblank"`
	Minutes     int    `json:"minutes" validate:"gt=0"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,currency"`
}

func (no *NewPackageOrder) Validate(validate *validator.Validate) error {
	no.UserID = core.CleanString(no.UserID)
	no.Email = core.CleanString(no.Email, true /* lower */)
	no.PackageName = core.CleanString(no.PackageName)
	no.Currency = strings.ToUpper(core.CleanString(no.Currency))

	if err := validate.Struct(no); err != nil {
		return err
	}
	if no.UserID == "" && no.Email == "" {
		return core.NewValidationError(nil,
			core.FieldError{Field: "user_id", Error: errBuyerRequired},
			core.FieldError{Field: "email", Error: errBuyerRequired},
		)
	}
	return nil
}

type OrderFilter struct {
	UserID   string   `query:"user"`
	Statuses []string `query:"status"`
}

type InvoiceFilter struct {
	ClientID string `query:"client"`
	UserID   string `query:"user"`
}

// Balance is the flight time left to a student.
type Balance struct {
	UserID           string `json:"user_id"`
	PaidMinutes      int    `json:"paid_minutes"`
	FlownMinutes     int    `json:"flown_minutes"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

