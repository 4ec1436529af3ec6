package postgres

import (
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes handled explicitly.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeForeignKeyViolation  = "23503"
	codeUniqueViolation      = "23505"
)

// Foreign key constraint names generated by the schema.
const (
	fkCartCustomer  = "cart_items_customer_id_fkey"
	fkCartProduct   = "cart_items_product_id_fkey"
	fkOrderCustomer = "orders_customer_id_fkey"
	fkItemProduct   = "order_items_product_id_fkey"
	fkProductCat    = "products_category_id_fkey"
	fkKeyCustomer   = "api_keys_customer_id_fkey"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// retryable reports whether err aborted the transaction because of a
// concurrent writer, so the whole unit of work may run again.
func retryable(err error) bool {
	pgErr, ok := pgError(err)
	if !ok {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// violates reports whether err is a constraint violation with the given code,
// optionally restricted to one constraint.
func violates(err error, code, constraint string) bool {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
