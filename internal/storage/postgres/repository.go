package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE Postgres raises for duplicate keys.
const uniqueViolation = "23505"

// Repository is a thin wrapper around *sql.DB implementing order.Store.
type Repository struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

const orderColumns = `id, paystack_reference, user_id, provider_name, bundle_id, recipient_number,
    price, payment_network, status, created_at, updated_at`

// FindByReference loads the order for a payment reference.
func (r *Repository) FindByReference(ctx context.Context, reference string) (order.Order, error) {
	if r.DB == nil {
		return order.Order{}, fmt.Errorf("%w: database not initialized", order.ErrStore)
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE paystack_reference = $1`, reference)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, classify("find order", err)
	}
	return o, nil
}

// Insert creates the order. A row already holding the reference yields
// order.ErrConflict, whether it is detected by ON CONFLICT or surfaces as a
// unique violation.
func (r *Repository) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	if r.DB == nil {
		return order.Order{}, fmt.Errorf("%w: database not initialized", order.ErrStore)
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	query := `
        INSERT INTO orders (id, paystack_reference, user_id, provider_name, bundle_id, recipient_number,
                            price, payment_network, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (paystack_reference) DO NOTHING
        RETURNING ` + orderColumns
	row := r.DB.QueryRowContext(ctx, query,
		o.ID, o.Reference, o.UserID, o.ProviderName, o.BundleID, o.RecipientNumber,
		o.Price, o.PaymentNetwork, string(o.Status),
	)
	created, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrConflict
	}
	if err != nil {
		return order.Order{}, classify("insert order", err)
	}
	return created, nil
}

// MarkPaid flips a non-paid order to paid. It reports false when nothing
// changed, either because the order is already paid or does not exist.
func (r *Repository) MarkPaid(ctx context.Context, reference string) (bool, error) {
	if r.DB == nil {
		return false, fmt.Errorf("%w: database not initialized", order.ErrStore)
	}
	query := `
        UPDATE orders
        SET status = $1, updated_at = CURRENT_TIMESTAMP
        WHERE paystack_reference = $2 AND status <> $1
    `
	res, err := r.DB.ExecContext(ctx, query, string(order.StatusPaid), reference)
	if err != nil {
		return false, classify("mark order paid", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, classify("mark order paid", err)
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.Reference, &o.UserID, &o.ProviderName, &o.BundleID, &o.RecipientNumber,
		&o.Price, &o.PaymentNetwork, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = order.Status(status)
	return o, nil
}

// classify maps driver errors onto the order package's sentinel errors.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, order.ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", op, order.ErrStore, err)
}
