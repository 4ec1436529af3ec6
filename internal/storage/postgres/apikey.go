package postgres

import (
	"context"
	"fmt"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
)

const getAPIKeyByHashSQL = `SELECT k.id, k.key_hash, k.name, k.role,
		COALESCE(k.customer_id, 0), COALESCE(c.email, k.email)
	FROM api_keys k
	LEFT JOIN customers c ON c.id = k.customer_id
	WHERE k.key_hash = $1 AND k.active = TRUE`

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, role, customer_id, email)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		key_hash = EXCLUDED.key_hash,
		name = EXCLUDED.name,
		role = EXCLUDED.role,
		customer_id = EXCLUDED.customer_id,
		email = EXCLUDED.email,
		active = TRUE`

const upsertCustomerSQL = `INSERT INTO customers (id, email) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`

const syncCustomerSeqSQL = `SELECT setval(pg_get_serial_sequence('customers', 'id'),
	GREATEST((SELECT max(id) FROM customers), 1))`

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		info auth.APIKeyInfo
		role string
	)
	err := s.pool.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name, &role, &info.CustomerID, &info.Email,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("api key not found: %w", auth.ErrUnauthorized)
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	info.Role = auth.Role(role)
	return &info, nil
}

// UpsertAPIKey stores an API key. Customer keys take their email from the
// customer row.
func (s *Store) UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	var customerID *int64
	if info.CustomerID != 0 {
		customerID = &info.CustomerID
	}
	_, err := s.pool.Exec(ctx, upsertAPIKeySQL,
		info.ID, info.KeyHash, info.Name, string(info.Role), customerID, info.Email,
	)
	if err != nil {
		if violates(err, codeForeignKeyViolation, fkKeyCustomer) {
			return auth.ErrCustomerNotFound
		}
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}

// UpsertCustomer creates or renames a customer.
func (s *Store) UpsertCustomer(ctx context.Context, id int64, email string) error {
	if id <= 0 {
		return fmt.Errorf("customer id must be positive, got %d", id)
	}
	if _, err := s.pool.Exec(ctx, upsertCustomerSQL, id, email); err != nil {
		return fmt.Errorf("upserting customer %d: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, syncCustomerSeqSQL); err != nil {
		return fmt.Errorf("syncing customer sequence: %w", err)
	}
	return nil
}
