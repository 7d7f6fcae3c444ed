package ports

import "context"

// CustomerLocker serializes vault mutations for a single customer.
type CustomerLocker interface {
	// Lock blocks until the customer's lock is held or ctx is done.
	Lock(ctx context.Context, customerID string) (unlock func(), err error)
}

// OrderLocker serializes charges against one order, from the balance read
// until the resulting payment is saved.
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (unlock func(), err error)
}
