// Package memory keeps orders in a mutex-guarded map. It enforces the same
// uniqueness contract as the database backends and is used for local runs and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/google/uuid"
)

type Store struct {
	mu     sync.RWMutex
	orders map[string]order.Order // keyed by reference
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		orders: make(map[string]order.Order),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindByReference(ctx context.Context, reference string) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[reference]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *Store) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.Reference]; exists {
		return order.Order{}, order.ErrConflict
	}
	now := s.now()
	o.ID = uuid.New().String()
	o.CreatedAt = now
	o.UpdatedAt = now
	s.orders[o.Reference] = o
	return o, nil
}

func (s *Store) MarkPaid(ctx context.Context, reference string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reference]
	if !ok || o.Status == order.StatusPaid {
		return false, nil
	}
	o.Status = order.StatusPaid
	o.UpdatedAt = s.now()
	s.orders[reference] = o
	return true, nil
}

// Count returns the number of stored orders.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Put stores an order as-is, replacing any existing row. Test seeding only.
func (s *Store) Put(o order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
		o.UpdatedAt = o.CreatedAt
	}
	s.orders[o.Reference] = o
}
