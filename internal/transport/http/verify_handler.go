package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licguard/internal/errors"
	"licguard/pkg/contracts/domain"
)

// VerifyHandler exposes the public verification endpoint
type VerifyHandler struct {
	engine     ClaimVerifier
	errHandler *apierrors.ErrorHandler
	logger     *slog.Logger
}

// NewVerifyHandler creates a verification handler
func NewVerifyHandler(engine ClaimVerifier, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		engine:     engine,
		errHandler: apierrors.NewErrorHandler(logger),
		logger:     logger.With(slog.String("handler", "verify")),
	}
}

// Routes returns the chi router for verification endpoints. GET is kept for
// legacy clients that pass the claim as query parameters.
func (h *VerifyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Verify)
	r.Get("/", h.Verify)
	return r
}

// unixTimestamp accepts both a JSON number and a numeric string; legacy
// clients send either.
type unixTimestamp int64

func (t *unixTimestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	*t = unixTimestamp(v)
	return nil
}

// claimRequest is the wire shape of a verification request. Each field keeps
// the aliases older client generations used; the first non-empty value wins.
type claimRequest struct {
	CredentialID string `json:"credential_id"`
	APIID        string `json:"api_id"`
	LicencaID    string `json:"licenca_id"`

	OwnerID         string `json:"owner_id"`
	TelegramID      string `json:"telegram_id"`
	VinculoTelegram string `json:"vinculo_telegram"`

	Timestamp unixTimestamp `json:"timestamp"`

	ProofHash        string `json:"proof_hash"`
	HashVerificacao  string `json:"hash_verificacao"`
	Hash             string `json:"hash"`

	Format string `json:"format"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// toClaim normalizes the wire shape into the canonical claim
func (req *claimRequest) toClaim(origin string) domain.Claim {
	return domain.Claim{
		CredentialID: firstNonEmpty(req.CredentialID, req.APIID, req.LicencaID),
		OwnerID:      firstNonEmpty(req.OwnerID, req.TelegramID, req.VinculoTelegram),
		Timestamp:    int64(req.Timestamp),
		ProofHash:    firstNonEmpty(req.ProofHash, req.HashVerificacao, req.Hash),
		Origin:       origin,
	}
}

// VerifyResponse is the JSON body for a decided claim
type VerifyResponse struct {
	Verdict          string    `json:"verdict"`
	Message          string    `json:"message"`
	Plan             string    `json:"plan,omitempty"`
	Token            string    `json:"token,omitempty"`
	RemainingSeconds int64     `json:"remaining_seconds,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Verify handles POST /api/verify and its legacy GET form
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := h.decodeRequest(r)
	if err != nil {
		h.errHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	origin := clientOrigin(r)
	result := h.engine.Verify(ctx, req.toClaim(origin))

	pipe := strings.EqualFold(req.Format, "pipe") || strings.EqualFold(r.URL.Query().Get("format"), "pipe")
	if result.Valid() {
		h.renderValid(w, r, result, pipe)
		return
	}
	h.renderFailure(w, r, result, pipe)
}

// decodeRequest reads the claim from the JSON body or, for GET, from query
// parameters.
func (h *VerifyHandler) decodeRequest(r *http.Request) (*claimRequest, error) {
	req := &claimRequest{}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.CredentialID = firstNonEmpty(q.Get("credential_id"), q.Get("api_id"), q.Get("licenca_id"))
		req.OwnerID = firstNonEmpty(q.Get("owner_id"), q.Get("telegram_id"), q.Get("vinculo_telegram"))
		req.ProofHash = firstNonEmpty(q.Get("proof_hash"), q.Get("hash_verificacao"), q.Get("hash"))
		req.Format = q.Get("format")
		if raw := q.Get("timestamp"); raw != "" {
			ts, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp: %w", err)
			}
			req.Timestamp = unixTimestamp(ts)
		}
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return req, nil
}

// renderValid writes the success response. The pipe form is the legacy
// machine-readable line: 1|<plan>|<days>|<token>|<unix>|ok.
func (h *VerifyHandler) renderValid(w http.ResponseWriter, r *http.Request, result domain.Result, pipe bool) {
	if pipe {
		days := int(result.RemainingValidity.Hours() / 24)
		line := fmt.Sprintf("1|%s|%d|%s|%d|ok", result.Plan, days, result.Token, result.CheckedAt.Unix())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, line)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyResponse{
		Verdict:          string(result.Verdict),
		Message:          result.Message,
		Plan:             result.Plan,
		Token:            result.Token,
		RemainingSeconds: int64(result.RemainingValidity.Seconds()),
		CheckedAt:        result.CheckedAt,
	})
}

// renderFailure maps a non-VALID verdict onto the API error vocabulary
func (h *VerifyHandler) renderFailure(w http.ResponseWriter, r *http.Request, result domain.Result, pipe bool) {
	apiErr := verdictError(result)

	if pipe {
		if apiErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(apiErr.StatusCode)
		fmt.Fprintf(w, "0|%s\n", result.Verdict)
		return
	}

	h.errHandler.HandleError(w, r, apiErr)
}

// verdictError translates engine verdicts to HTTP errors. AUTH_FAILED,
// UNKNOWN_CREDENTIAL and STALE_TIMESTAMP share one response body so callers
// cannot probe which check failed.
func verdictError(result domain.Result) *apierrors.APIError {
	switch result.Verdict {
	case domain.VerdictMalformed:
		return apierrors.ErrMalformedClaim
	case domain.VerdictRateLimited:
		return apierrors.RateLimitedError("RATE_LIMITED", result.Message, retrySeconds(result.RetryAfter))
	case domain.VerdictCredentialLocked:
		return apierrors.RateLimitedError("CREDENTIAL_LOCKED", result.Message, retrySeconds(result.RetryAfter))
	case domain.VerdictStaleTimestamp, domain.VerdictAuthFailed, domain.VerdictUnknownCredential:
		return apierrors.ErrVerificationFailed
	case domain.VerdictDisabled:
		return apierrors.ErrCredentialDisabled
	case domain.VerdictOwnerMismatch:
		return apierrors.New(http.StatusForbidden, "OWNER_MISMATCH", result.Message)
	case domain.VerdictExpired:
		return apierrors.ErrCredentialExpired
	default:
		return apierrors.ErrInternalServer
	}
}

// retrySeconds rounds a lockout remainder up to whole seconds so a client
// that sleeps exactly Retry-After lands past the lockout.
func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// clientOrigin extracts the abuse-tracking key for the caller. RealIP
// middleware has already folded forwarding headers into RemoteAddr.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
