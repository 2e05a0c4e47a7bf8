package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/channelpay/tonconnect-server-go/internal/model"
)

// WalletSessionRepository persists the key/value fragments a TON Connect
// connector needs to survive process restarts. Owner and subscriber sessions
// live in separate tables so one population can be wiped or inspected without
// touching the other.
type WalletSessionRepository interface {
	Find(ctx context.Context, kind model.PrincipalKind, userID, key string) (*model.WalletSessionRecord, error)
	Upsert(ctx context.Context, kind model.PrincipalKind, userID, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, kind model.PrincipalKind, userID, key string) error
	ListKeys(ctx context.Context, kind model.PrincipalKind, userID string) ([]string, error)
	DeleteExpired(ctx context.Context, kind model.PrincipalKind) (int64, error)
}

type walletSessionRepo struct {
	db sqlxDB
}

func NewWalletSessionRepository(db *sqlx.DB) WalletSessionRepository {
	return &walletSessionRepo{db: db}
}

// sessionTable maps a principal kind to its backing table. Table names cannot
// be bound as query parameters, so this switch is the only place they enter
// SQL text.
func sessionTable(kind model.PrincipalKind) (string, error) {
	switch kind {
	case model.PrincipalOwner:
		return "owner_wallet_sessions", nil
	case model.PrincipalSubscriber:
		return "subscriber_wallet_sessions", nil
	default:
		return "", fmt.Errorf("no session table for principal kind %q", kind)
	}
}

func (r *walletSessionRepo) Find(ctx context.Context, kind model.PrincipalKind, userID, key string) (*model.WalletSessionRecord, error) {
	table, err := sessionTable(kind)
	if err != nil {
		return nil, err
	}
	var record model.WalletSessionRecord
	err = r.db.GetContext(ctx, &record, fmt.Sprintf(`
		SELECT * FROM %s
		WHERE user_id = $1 AND session_key = $2 AND expires_at > NOW()
	`, table), userID, key)
	return HandleNotFound(&record, err)
}

// Upsert stores a fragment and pushes its expiry out by ttl. Every write
// refreshes the clock, so a session stays alive as long as the connector
// keeps touching it.
func (r *walletSessionRepo) Upsert(ctx context.Context, kind model.PrincipalKind, userID, key, value string, ttl time.Duration) error {
	table, err := sessionTable(kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, session_key, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, session_key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, table), userID, key, value, time.Now().Add(ttl))
	return err
}

func (r *walletSessionRepo) Delete(ctx context.Context, kind model.PrincipalKind, userID, key string) error {
	table, err := sessionTable(kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE user_id = $1 AND session_key = $2
	`, table), userID, key)
	return err
}

func (r *walletSessionRepo) ListKeys(ctx context.Context, kind model.PrincipalKind, userID string) ([]string, error) {
	table, err := sessionTable(kind)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = r.db.SelectContext(ctx, &keys, fmt.Sprintf(`
		SELECT session_key FROM %s
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY session_key
	`, table), userID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *walletSessionRepo) DeleteExpired(ctx context.Context, kind model.PrincipalKind) (int64, error) {
	table, err := sessionTable(kind)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE expires_at < NOW()
	`, table))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
