// Package registry owns credential records: lookup for the verification
// flow and create/update/delete for the admin surface, backed by a JSON
// file so records survive restarts.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"licguard/pkg/contracts/domain"
)

// Sentinel errors returned by stores
var (
	ErrNotFound = errors.New("credential not found")
	ErrExists   = errors.New("credential already exists")
)

// Store is the registry contract consumed by the verification engine and
// the admin handlers. Update applies fn to the stored record under the
// store's lock so read-modify-write sequences on one credential are atomic.
type Store interface {
	Lookup(ctx context.Context, id string) (*domain.Credential, error)
	Put(ctx context.Context, cred *domain.Credential) error
	Update(ctx context.Context, id string, fn func(*domain.Credential) error) (*domain.Credential, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, status domain.CredentialStatus) ([]*domain.Credential, error)
	Counts(ctx context.Context) (total, active int, err error)
}

// AutoID is the sentinel credential ID that asks the server to generate one
const AutoID = "AUTO"

// GenerateCredentialID produces a unique credential identifier of the form
// LIC-<unix-seconds>-<6 hex chars>.
func GenerateCredentialID() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate credential id: %w", err)
	}
	return fmt.Sprintf("LIC-%d-%s", time.Now().Unix(), strings.ToUpper(hex.EncodeToString(buf))), nil
}
