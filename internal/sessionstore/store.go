// Package sessionstore exposes the durable key/value capability TON Connect
// connectors persist through. A Store is parameterized by principal kind so
// channel-owner and subscriber sessions stay in separate tables; ForUser
// narrows it to the single-user handle a connector binds to.
package sessionstore

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/repository"
	"github.com/channelpay/tonconnect-server-go/internal/util"
)

type Store struct {
	repo          repository.WalletSessionRepository
	kind          model.PrincipalKind
	encryptionKey string
}

// New builds the store for one principal population. A non-empty
// encryptionKey switches stored values to AES-256-GCM at rest; session
// fragments carry connector private keys, so production deployments set it.
func New(repo repository.WalletSessionRepository, kind model.PrincipalKind, encryptionKey string) *Store {
	return &Store{repo: repo, kind: kind, encryptionKey: encryptionKey}
}

func (s *Store) Kind() model.PrincipalKind {
	return s.kind
}

// Get returns the stored value for key, or absent. Read and decrypt
// failures degrade to absent so a broken lookup reads as "not connected"
// instead of failing a status check; the error is logged for operators.
func (s *Store) Get(ctx context.Context, userID, key string) (string, bool) {
	record, err := s.repo.Find(ctx, s.kind, userID, key)
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", s.kind.String()).
			Str("user_id", userID).
			Str("session_key", key).
			Msg("Session read failed, treating as absent")
		return "", false
	}
	if record == nil {
		return "", false
	}

	value := record.Value
	if s.encryptionKey != "" {
		value, err = util.Decrypt(s.encryptionKey, record.Value)
		if err != nil {
			// Rows written in plaintext or under an old key end up here.
			// Absent forces a re-pair, which rewrites under the live key.
			log.Error().
				Err(err).
				Str("kind", s.kind.String()).
				Str("user_id", userID).
				Str("session_key", key).
				Msg("Session fragment undecryptable, treating as absent")
			return "", false
		}
	}
	return value, true
}

// Set upserts the value and refreshes its expiry to now + session TTL.
// Write failures propagate: a silently lost write would leave the user
// unable to reconnect consistently.
func (s *Store) Set(ctx context.Context, userID, key, value string) error {
	if s.encryptionKey != "" {
		encrypted, err := util.Encrypt(s.encryptionKey, value)
		if err != nil {
			return err
		}
		value = encrypted
	}
	return s.repo.Upsert(ctx, s.kind, userID, key, value, config.SessionTTL)
}

// Remove is idempotent; removing an absent key succeeds silently.
func (s *Store) Remove(ctx context.Context, userID, key string) error {
	return s.repo.Delete(ctx, s.kind, userID, key)
}

// ListKeys enumerates the user's live session keys. Unlike Get it propagates
// errors, because its one caller is the disconnect wipe and skipping keys
// there would strand session fragments.
func (s *Store) ListKeys(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ListKeys(ctx, s.kind, userID)
}

// ForUser narrows the store to one user.
func (s *Store) ForUser(userID string) *UserStore {
	return &UserStore{store: s, userID: userID}
}

// UserStore is the per-user storage handle handed to a connector. It carries
// the (kind, user) scope so the connector only ever sees bare keys.
type UserStore struct {
	store  *Store
	userID string
}

func (u *UserStore) Get(ctx context.Context, key string) (string, bool) {
	return u.store.Get(ctx, u.userID, key)
}

func (u *UserStore) Set(ctx context.Context, key, value string) error {
	return u.store.Set(ctx, u.userID, key, value)
}

func (u *UserStore) Remove(ctx context.Context, key string) error {
	return u.store.Remove(ctx, u.userID, key)
}
