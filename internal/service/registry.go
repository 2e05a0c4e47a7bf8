package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/sessionstore"
	"github.com/channelpay/tonconnect-server-go/internal/tonconnect"
)

type registryEntry struct {
	connector tonconnect.Connector
	store     *sessionstore.UserStore
}

// ConnectorRegistry owns the live connector instances, one per (kind, user).
// A connector is built lazily on first access, restored from its persisted
// session, and kept until disconnect or shutdown. All callers for the same
// user get the same instance.
type ConnectorRegistry struct {
	factory tonconnect.Factory
	stores  map[model.PrincipalKind]*sessionstore.Store

	mu      sync.RWMutex
	entries map[string]*registryEntry
	group   singleflight.Group
}

func NewConnectorRegistry(factory tonconnect.Factory, owner, subscriber *sessionstore.Store) *ConnectorRegistry {
	return &ConnectorRegistry{
		factory: factory,
		stores: map[model.PrincipalKind]*sessionstore.Store{
			model.PrincipalOwner:      owner,
			model.PrincipalSubscriber: subscriber,
		},
		entries: make(map[string]*registryEntry),
	}
}

func registryKey(kind model.PrincipalKind, userID string) string {
	return string(kind) + ":" + userID
}

// GetOrCreate returns the user's connector, constructing and restoring it on
// first access. Concurrent calls for the same user are collapsed into one
// construction: racing restorations against the same session rows would
// corrupt the store.
func (r *ConnectorRegistry) GetOrCreate(ctx context.Context, kind model.PrincipalKind, userID string) (tonconnect.Connector, error) {
	key := registryKey(kind, userID)

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return entry.connector, nil
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		entry, ok := r.entries[key]
		r.mu.RUnlock()
		if ok {
			return entry, nil
		}

		store, ok := r.stores[kind]
		if !ok {
			return nil, fmt.Errorf("no session store for principal kind %q", kind)
		}
		userStore := store.ForUser(userID)
		connector := r.factory(userStore)
		if err := connector.RestoreConnection(ctx); err != nil {
			connector.Close()
			return nil, fmt.Errorf("restore connection for %s: %w", key, err)
		}

		entry = &registryEntry{connector: connector, store: userStore}
		r.mu.Lock()
		r.entries[key] = entry
		r.mu.Unlock()

		log.Debug().
			Str("kind", kind.String()).
			Str("user_id", userID).
			Bool("connected", connector.Connected()).
			Msg("Connector created")
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*registryEntry).connector, nil
}

// Disconnect tears down the user's pairing end to end: protocol-level
// disconnect, then a sweep of every persisted session key, then cache
// eviction. Teardown steps are best-effort and the first failure is
// returned, but eviction always happens — a cached connector for a
// half-wiped session would be worse than none.
func (r *ConnectorRegistry) Disconnect(ctx context.Context, kind model.PrincipalKind, userID string) error {
	defer r.evict(kind, userID)

	connector, err := r.GetOrCreate(ctx, kind, userID)
	if err != nil {
		// A session too broken to restore still has rows to sweep;
		// leaving them would block the user from ever pairing again.
		log.Warn().
			Err(err).
			Str("kind", kind.String()).
			Str("user_id", userID).
			Msg("Connector restore failed during disconnect, sweeping sessions anyway")
		return r.wipeSessions(ctx, kind, userID)
	}

	var firstErr error
	if connector.Connected() {
		if err := connector.Disconnect(ctx); err != nil {
			firstErr = fmt.Errorf("protocol disconnect: %w", err)
			log.Warn().
				Err(err).
				Str("kind", kind.String()).
				Str("user_id", userID).
				Msg("Protocol disconnect failed, continuing cleanup")
		}
	}
	if err := r.wipeSessions(ctx, kind, userID); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// wipeSessions removes every persisted session row for the user, including
// fragments a half-completed pairing may have left under keys the connector
// no longer knows about.
func (r *ConnectorRegistry) wipeSessions(ctx context.Context, kind model.PrincipalKind, userID string) error {
	store, ok := r.stores[kind]
	if !ok {
		return fmt.Errorf("no session store for principal kind %q", kind)
	}
	keys, err := store.ListKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("list session keys: %w", err)
	}
	var firstErr error
	for _, key := range keys {
		if err := store.Remove(ctx, userID, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove session key %q: %w", key, err)
		}
	}
	return firstErr
}

func (r *ConnectorRegistry) evict(kind model.PrincipalKind, userID string) {
	key := registryKey(kind, userID)
	r.mu.Lock()
	entry, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok {
		entry.connector.Close()
	}
}

// Cached reports whether a live connector exists for the user without
// constructing one.
func (r *ConnectorRegistry) Cached(kind model.PrincipalKind, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[registryKey(kind, userID)]
	return ok
}

// Close stops every cached connector. Persisted sessions stay behind for the
// next process to restore.
func (r *ConnectorRegistry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.connector.Close()
	}
	log.Debug().Int("connectors", len(entries)).Msg("Connector registry closed")
}
