package sessionstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	"github.com/channelpay/tonconnect-server-go/internal/model"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Find(ctx context.Context, kind model.PrincipalKind, userID, key string) (*model.WalletSessionRecord, error) {
	args := m.Called(ctx, kind, userID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WalletSessionRecord), args.Error(1)
}

func (m *mockSessionRepo) Upsert(ctx context.Context, kind model.PrincipalKind, userID, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, kind, userID, key, value, ttl)
	return args.Error(0)
}

func (m *mockSessionRepo) Delete(ctx context.Context, kind model.PrincipalKind, userID, key string) error {
	args := m.Called(ctx, kind, userID, key)
	return args.Error(0)
}

func (m *mockSessionRepo) ListKeys(ctx context.Context, kind model.PrincipalKind, userID string) ([]string, error) {
	args := m.Called(ctx, kind, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, kind model.PrincipalKind) (int64, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).(int64), args.Error(1)
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored value", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalOwner, "")

		repo.On("Find", ctx, model.PrincipalOwner, "u1", "bridge_session").
			Return(&model.WalletSessionRecord{Value: `{"seed":"abc"}`}, nil)

		value, ok := store.Get(ctx, "u1", "bridge_session")
		assert.True(t, ok)
		assert.Equal(t, `{"seed":"abc"}`, value)
	})

	t.Run("missing record reads as absent", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalOwner, "")

		repo.On("Find", ctx, model.PrincipalOwner, "u1", "bridge_session").Return(nil, nil)

		value, ok := store.Get(ctx, "u1", "bridge_session")
		assert.False(t, ok)
		assert.Empty(t, value)
	})

	t.Run("read failure degrades to absent", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalOwner, "")

		repo.On("Find", ctx, model.PrincipalOwner, "u1", "bridge_session").
			Return(nil, errors.New("connection refused"))

		value, ok := store.Get(ctx, "u1", "bridge_session")
		assert.False(t, ok)
		assert.Empty(t, value)
	})
}

func TestStore_Set(t *testing.T) {
	ctx := context.Background()

	t.Run("writes with the session TTL", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalSubscriber, "")

		repo.On("Upsert", ctx, model.PrincipalSubscriber, "u1", "wallet", "v", config.SessionTTL).Return(nil)

		err := store.Set(ctx, "u1", "wallet", "v")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("write failure propagates", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalSubscriber, "")

		repo.On("Upsert", ctx, model.PrincipalSubscriber, "u1", "wallet", "v", config.SessionTTL).
			Return(errors.New("disk full"))

		err := store.Set(ctx, "u1", "wallet", "v")
		assert.Error(t, err)
	})
}

func TestStore_EncryptionAtRest(t *testing.T) {
	ctx := context.Background()
	key := strings.Repeat("ab", 32)

	t.Run("round trips through ciphertext", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalOwner, key)

		var stored string
		repo.On("Upsert", ctx, model.PrincipalOwner, "u1", "bridge_session", mock.AnythingOfType("string"), config.SessionTTL).
			Run(func(args mock.Arguments) { stored = args.String(4) }).
			Return(nil)

		require.NoError(t, store.Set(ctx, "u1", "bridge_session", `{"seed":"abc"}`))
		assert.NotEqual(t, `{"seed":"abc"}`, stored, "value must not reach the repository in plaintext")

		repo.On("Find", ctx, model.PrincipalOwner, "u1", "bridge_session").
			Return(&model.WalletSessionRecord{Value: stored}, nil)

		value, ok := store.Get(ctx, "u1", "bridge_session")
		assert.True(t, ok)
		assert.Equal(t, `{"seed":"abc"}`, value)
	})

	t.Run("undecryptable value reads as absent", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalOwner, key)

		repo.On("Find", ctx, model.PrincipalOwner, "u1", "bridge_session").
			Return(&model.WalletSessionRecord{Value: "plaintext row from before the key existed"}, nil)

		value, ok := store.Get(ctx, "u1", "bridge_session")
		assert.False(t, ok)
		assert.Empty(t, value)
	})

	t.Run("malformed key fails the write", func(t *testing.T) {
		repo := new(mockSessionRepo)
		store := New(repo, model.PrincipalOwner, "tooshort")

		err := store.Set(ctx, "u1", "k", "v")
		assert.Error(t, err)
		repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestStore_ForUser(t *testing.T) {
	ctx := context.Background()
	repo := new(mockSessionRepo)
	store := New(repo, model.PrincipalOwner, "")
	userStore := store.ForUser("u42")

	repo.On("Find", ctx, model.PrincipalOwner, "u42", "k").
		Return(&model.WalletSessionRecord{Value: "v"}, nil)
	repo.On("Upsert", ctx, model.PrincipalOwner, "u42", "k", "v2", config.SessionTTL).Return(nil)
	repo.On("Delete", ctx, model.PrincipalOwner, "u42", "k").Return(nil)

	value, ok := userStore.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	assert.NoError(t, userStore.Set(ctx, "k", "v2"))
	assert.NoError(t, userStore.Remove(ctx, "k"))
	repo.AssertExpectations(t)
}
