package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ExpectedProof derives the proof hash a client holding the shared secret
// would compute for this claim: SHA-256 over the colon-joined credential
// ID, owner ID, timestamp and secret. Binding all four means a captured
// proof cannot be replayed against another owner, another credential, or
// outside the freshness window.
func ExpectedProof(credentialID, ownerID string, timestamp int64, secret string) string {
	payload := fmt.Sprintf("%s:%s:%d:%s", credentialID, ownerID, timestamp, secret)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyProof compares the supplied proof against the expected value in
// constant time. Case differences in the hex encoding are tolerated;
// anything else must match exactly.
func VerifyProof(credentialID, ownerID string, timestamp int64, proof, secret string) bool {
	expected := ExpectedProof(credentialID, ownerID, timestamp, secret)
	supplied := strings.ToLower(proof)
	if len(supplied) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// SessionToken derives the short-lived opaque token returned alongside a
// VALID verdict. It is keyed with an internal-only secret and carries no
// authorization weight; clients use it for display and diagnostics.
func SessionToken(credentialID string, now time.Time, tokenSecret string) string {
	mac := hmac.New(sha256.New, []byte(tokenSecret))
	fmt.Fprintf(mac, "%s|%d", credentialID, now.Unix())
	return fmt.Sprintf("tok-%d-%s", now.Unix(), hex.EncodeToString(mac.Sum(nil))[:24])
}

// SecretPrefix returns the loggable prefix of a secret or proof value.
// Full values never reach the logs.
func SecretPrefix(value string) string {
	if len(value) < 8 {
		return "short"
	}
	return value[:8]
}
