package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"

	"github.com/curatorlabs/datacollector/pkg/ledger"
)

// Signoff statuses.
const (
	SignoffApproved = "approved"
	SignoffRejected = "rejected"
	SignoffPending  = "pending"
)

// Signoff is a human review assertion for a target. It records the evidence
// hashes it was approved against; a later snapshot mismatch makes it stale.
type Signoff struct {
	Status string `json:"status"`
	By     string `json:"by"`
	At     string `json:"at"`

	EvidenceRawSHA256        string `json:"evidence_raw_sha256,omitempty"`
	EvidenceNormalizedSHA256 string `json:"evidence_normalized_sha256,omitempty"`

	// SignoffJWT optionally carries an HMAC-signed assertion of the same
	// fields. When a reviewer key is configured the token must verify and
	// its target_id claim must match, otherwise the signoff is ignored.
	SignoffJWT string `json:"signoff_jwt,omitempty"`

	Override *Override `json:"override,omitempty"`
}

// Override documents a deliberate rule override with its justification.
type Override struct {
	RuleID        string `json:"rule_id"`
	Justification string `json:"justification"`
	Link          string `json:"link,omitempty"`
}

// Approved reports whether the signoff grants approval.
func (s *Signoff) Approved() bool {
	return s != nil && s.Status == SignoffApproved
}

// LoadSignoff reads `review_signoff.json` from a target's manifest dir.
// A missing file returns (nil, nil); signoffs are optional.
func LoadSignoff(manifestDir string) (*Signoff, error) {
	path := filepath.Join(manifestDir, "review_signoff.json")
	var s Signoff
	if err := ledger.ReadJSON(path, &s); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// VerifySignoffJWT validates the embedded token against the reviewer HMAC
// key. Only HS256 is accepted and the target_id claim must match.
func VerifySignoffJWT(s *Signoff, targetID string, key []byte) error {
	if s == nil || s.SignoffJWT == "" {
		return fmt.Errorf("signoff carries no token")
	}
	token, err := jwt.Parse(s.SignoffJWT, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("verify signoff token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("signoff token has no claims")
	}
	if claimed, _ := claims["target_id"].(string); claimed != targetID {
		return fmt.Errorf("signoff token is for target %q, not %q", claimed, targetID)
	}
	if status, _ := claims["status"].(string); status != s.Status {
		return fmt.Errorf("signoff token status %q disagrees with document %q", status, s.Status)
	}
	return nil
}
