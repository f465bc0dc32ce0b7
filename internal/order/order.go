package order

import (
	"context"
	"errors"
	"time"
)

// PaymentNetwork tags every order reconciled by this service.
const PaymentNetwork = "Paystack"

// Status is the lifecycle state of an order. The only valid transition is
// pending -> paid.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

var (
	// ErrNotFound is returned by Store.FindByReference when no order exists.
	ErrNotFound = errors.New("order not found")
	// ErrConflict reports a uniqueness violation on the reference column.
	ErrConflict = errors.New("order reference already exists")
	// ErrStore wraps any other persistence failure.
	ErrStore = errors.New("order store failure")
	// ErrInvalidInput is returned when a reconcile request lacks a reference.
	ErrInvalidInput = errors.New("invalid reconcile input")
)

// Metadata is the caller-supplied part of a payment, echoed back by the provider.
type Metadata struct {
	UserID          string `json:"user_id"`
	ProviderName    string `json:"provider_name"`
	BundleID        string `json:"bundle_id"`
	RecipientNumber string `json:"recipient_number"`
}

// Order is the persistent ledger record keyed by the provider reference.
type Order struct {
	ID              string    `json:"id"`
	Reference       string    `json:"paystack_reference"`
	UserID          string    `json:"user_id"`
	ProviderName    string    `json:"provider_name"`
	BundleID        string    `json:"bundle_id"`
	RecipientNumber string    `json:"recipient_number"`
	Price           float64   `json:"price"`
	PaymentNetwork  string    `json:"payment_network"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store is the narrow persistence boundary the reconciler relies on.
//
// Insert must fail with ErrConflict when an order with the same reference
// already exists. MarkPaid must be a conditional write that only touches rows
// not already paid; it reports whether a row changed.
type Store interface {
	FindByReference(ctx context.Context, reference string) (Order, error)
	Insert(ctx context.Context, o Order) (Order, error)
	MarkPaid(ctx context.Context, reference string) (bool, error)
}

// PriceFromMinorUnits converts the provider's smallest currency unit to major units.
func PriceFromMinorUnits(amount int64) float64 {
	return float64(amount) / 100
}
