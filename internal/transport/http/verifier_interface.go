package http

import (
	"context"

	"licguard/pkg/contracts/domain"
)

// ClaimVerifier is the engine contract the transport layer depends on
type ClaimVerifier interface {
	Verify(ctx context.Context, claim domain.Claim) domain.Result
}
