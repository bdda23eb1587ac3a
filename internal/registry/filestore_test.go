package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licguard/pkg/contracts/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileStore(path, slog.Default())
	require.NoError(t, err)
	return store
}

func testCredential(id string) *domain.Credential {
	return &domain.Credential{
		ID:           id,
		OwnerID:      "33614184",
		Plan:         domain.DefaultPlan,
		Status:       domain.CredentialStatusActive,
		IssuedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ValidityDays: 30,
	}
}

func TestFileStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("lookup missing", func(t *testing.T) {
		_, err := store.Lookup(ctx, "LIC-MISSING")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and lookup", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, testCredential("LIC-1")))

		cred, err := store.Lookup(ctx, "LIC-1")
		require.NoError(t, err)
		assert.Equal(t, "33614184", cred.OwnerID)
		assert.Equal(t, domain.CredentialStatusActive, cred.Status)
	})

	t.Run("duplicate put rejected", func(t *testing.T) {
		err := store.Put(ctx, testCredential("LIC-1"))
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("update mutates atomically", func(t *testing.T) {
		updated, err := store.Update(ctx, "LIC-1", func(c *domain.Credential) error {
			c.AuthFailures = 2
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.AuthFailures)

		cred, err := store.Lookup(ctx, "LIC-1")
		require.NoError(t, err)
		assert.Equal(t, 2, cred.AuthFailures)
	})

	t.Run("update preserves identity", func(t *testing.T) {
		updated, err := store.Update(ctx, "LIC-1", func(c *domain.Credential) error {
			c.ID = "LIC-HIJACKED"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "LIC-1", updated.ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "LIC-1"))
		_, err := store.Lookup(ctx, "LIC-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "LIC-1"), ErrNotFound)
	})
}

func TestFileStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := NewFileStore(path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testCredential("LIC-A")))
	require.NoError(t, store.Put(ctx, testCredential("LIC-B")))

	// File is valid JSON with restricted permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]*domain.Credential
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 2)

	// A fresh store sees the persisted records.
	reloaded, err := NewFileStore(path, slog.Default())
	require.NoError(t, err)
	cred, err := reloaded.Lookup(ctx, "LIC-A")
	require.NoError(t, err)
	assert.Equal(t, "33614184", cred.OwnerID)
}

func TestFileStoreList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	active := testCredential("LIC-ACTIVE")
	disabled := testCredential("LIC-DISABLED")
	disabled.Status = domain.CredentialStatusDisabled
	require.NoError(t, store.Put(ctx, active))
	require.NoError(t, store.Put(ctx, disabled))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "LIC-ACTIVE", all[0].ID)

	onlyActive, err := store.List(ctx, domain.CredentialStatusActive)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "LIC-ACTIVE", onlyActive[0].ID)

	total, activeCount, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, activeCount)
}

func TestFileStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, testCredential("LIC-COPY")))

	first, err := store.Lookup(ctx, "LIC-COPY")
	require.NoError(t, err)
	first.OwnerID = "tampered"
	first.AuthFailures = 99

	second, err := store.Lookup(ctx, "LIC-COPY")
	require.NoError(t, err)
	assert.Equal(t, "33614184", second.OwnerID)
	assert.Zero(t, second.AuthFailures)
}

func TestFileStoreConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Put(ctx, testCredential("LIC-RACE")))

	const k = 30
	var wg sync.WaitGroup
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "LIC-RACE", func(c *domain.Credential) error {
				c.AuthFailures++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cred, err := store.Lookup(ctx, "LIC-RACE")
	require.NoError(t, err)
	assert.Equal(t, k, cred.AuthFailures)
}

func TestGenerateCredentialID(t *testing.T) {
	pattern := regexp.MustCompile(`^LIC-\d+-[0-9A-F]{6}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateCredentialID()
		require.NoError(t, err)
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "generated duplicate id %s", id)
		seen[id] = true
	}
}
