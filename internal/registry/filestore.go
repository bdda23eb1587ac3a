package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"licguard/pkg/contracts/domain"
)

const (
	lookupCacheTTL     = 30 * time.Second
	lookupCacheCleanup = time.Minute
)

// FileStore is a mutex-guarded in-memory credential map persisted to a JSON
// file on every mutation. Lookups go through a short-TTL read cache; any
// mutation invalidates the cached entry before persisting.
type FileStore struct {
	mu     sync.Mutex
	path   string
	creds  map[string]*domain.Credential
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewFileStore loads (or initializes) the credential file at path
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		creds:  make(map[string]*domain.Credential),
		cache:  gocache.New(lookupCacheTTL, lookupCacheCleanup),
		logger: logger.With(slog.String("component", "registry")),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("registry file not found, starting empty",
			slog.String("path", s.path),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read registry file %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, &s.creds); err != nil {
		return fmt.Errorf("failed to parse registry file %s: %w", s.path, err)
	}

	s.logger.Info("registry loaded",
		slog.String("path", s.path),
		slog.Int("credentials", len(s.creds)),
	)
	return nil
}

// persist writes the credential map atomically: temp file in the same
// directory, then rename. Caller must hold s.mu.
func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(s.creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp registry file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}

// Lookup returns a copy of the credential, or ErrNotFound
func (s *FileStore) Lookup(ctx context.Context, id string) (*domain.Credential, error) {
	if cached, found := s.cache.Get(id); found {
		return cached.(*domain.Credential).Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.creds[id]
	if !exists {
		return nil, ErrNotFound
	}

	cp := cred.Clone()
	s.cache.SetDefault(id, cp.Clone())
	return cp, nil
}

// Put stores a new credential, failing with ErrExists on an ID collision
func (s *FileStore) Put(ctx context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creds[cred.ID]; exists {
		return ErrExists
	}

	s.cache.Delete(cred.ID)
	s.creds[cred.ID] = cred.Clone()
	if err := s.persist(); err != nil {
		delete(s.creds, cred.ID)
		return err
	}

	s.logger.InfoContext(ctx, "credential created",
		slog.String("credential_id", cred.ID),
		slog.String("plan", cred.Plan),
		slog.Int("validity_days", cred.ValidityDays),
	)
	return nil
}

// Update applies fn to the stored record under the store lock and persists
// the result. The mutation is atomic with respect to concurrent verifiers:
// nobody observes the record between read and write.
func (s *FileStore) Update(ctx context.Context, id string, fn func(*domain.Credential) error) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.creds[id]
	if !exists {
		return nil, ErrNotFound
	}

	updated := cred.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	// Identity is immutable.
	updated.ID = cred.ID

	s.cache.Delete(id)
	s.creds[id] = updated
	if err := s.persist(); err != nil {
		s.creds[id] = cred
		return nil, err
	}
	return updated.Clone(), nil
}

// Delete removes a credential, or returns ErrNotFound
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.creds[id]
	if !exists {
		return ErrNotFound
	}

	s.cache.Delete(id)
	delete(s.creds, id)
	if err := s.persist(); err != nil {
		s.creds[id] = cred
		return err
	}

	s.logger.InfoContext(ctx, "credential deleted",
		slog.String("credential_id", id),
	)
	return nil
}

// List returns copies of all credentials, optionally filtered by status,
// sorted by ID for stable output.
func (s *FileStore) List(ctx context.Context, status domain.CredentialStatus) ([]*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		if status != "" && cred.Status != status {
			continue
		}
		out = append(out, cred.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Counts returns the total and active credential counts
func (s *FileStore) Counts(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, cred := range s.creds {
		if cred.Status == domain.CredentialStatusActive {
			active++
		}
	}
	return len(s.creds), active, nil
}
