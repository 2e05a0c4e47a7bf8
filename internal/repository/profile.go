package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/channelpay/tonconnect-server-go/internal/model"
)

// ProfileRepository records which wallet, if any, a user currently has
// linked. It is the durable answer the payment flow consults without waking
// a bridge connection, and the thing stale-session reconciliation clears.
type ProfileRepository interface {
	Find(ctx context.Context, kind model.PrincipalKind, userID string) (*model.WalletProfile, error)
	SetWallet(ctx context.Context, kind model.PrincipalKind, userID, address, appName string) error
	ClearWallet(ctx context.Context, kind model.PrincipalKind, userID string) error
}

type profileRepo struct {
	db sqlxDB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) Find(ctx context.Context, kind model.PrincipalKind, userID string) (*model.WalletProfile, error) {
	var profile model.WalletProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM wallet_profiles WHERE kind = $1 AND user_id = $2
	`, kind, userID)
	return HandleNotFound(&profile, err)
}

func (r *profileRepo) SetWallet(ctx context.Context, kind model.PrincipalKind, userID, address, appName string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_profiles (kind, user_id, wallet_address, wallet_app_name, connected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, user_id) DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address,
			wallet_app_name = EXCLUDED.wallet_app_name,
			connected_at = EXCLUDED.connected_at,
			updated_at = $5
	`, kind, userID, address, appName, now)
	return err
}

func (r *profileRepo) ClearWallet(ctx context.Context, kind model.PrincipalKind, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wallet_profiles SET
			wallet_address = NULL,
			wallet_app_name = NULL,
			connected_at = NULL,
			updated_at = NOW()
		WHERE kind = $1 AND user_id = $2
	`, kind, userID)
	return err
}
