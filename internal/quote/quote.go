// Package quote builds and verifies the signed comparison links embedded
// in outgoing emails. The token is deliberately short: it gates nothing
// sensitive, it only keeps casual URL tampering from resolving.
package quote

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fallbacks used when the environment provides nothing.
const (
	DefaultBaseURL = "https://maxretain.com"
	DefaultSecret  = "your-default-secret-key"
)

// Signer mints per-contact quote links.
type Signer struct {
	baseURL string
	secret  string
}

// New returns a signer. Empty arguments fall back to the package defaults.
func New(baseURL, secret string) *Signer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if secret == "" {
		secret = DefaultSecret
	}
	return &Signer{baseURL: strings.TrimRight(baseURL, "/"), secret: secret}
}

// Link returns the comparison URL for one contact.
func (s *Signer) Link(orgID, contactID string) string {
	return fmt.Sprintf("%s/compare?id=%s-%s-%s", s.baseURL, orgID, contactID, s.token(orgID, contactID))
}

// Verify reports whether a presented token matches the contact. The
// comparison is constant time.
func (s *Signer) Verify(orgID, contactID, token string) bool {
	want := s.token(orgID, contactID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

// VerifyID splits a composite "org-contact-token" id and verifies it.
func (s *Signer) VerifyID(id string) (orgID, contactID string, ok bool) {
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return "", "", false
	}
	token := parts[len(parts)-1]
	orgID = parts[0]
	contactID = strings.Join(parts[1:len(parts)-1], "-")
	if !s.Verify(orgID, contactID, token) {
		return "", "", false
	}
	return orgID, contactID, true
}

func (s *Signer) token(orgID, contactID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", orgID, contactID, s.secret)))
	return hex.EncodeToString(sum[:])[:8]
}
