// Package credential classifies, validates and masks gateway credentials.
//
// Classification is a structural heuristic. It selects gateway options and the
// validation step to run; it is never a security decision.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/psds-microservice/voice-supervisor/internal/errs"
)

// Kind is the advisory credential class. Values match the wire names of the batch API.
type Kind string

const (
	KindBot  Kind = "bot_token"
	KindUser Kind = "self_token"
)

// DefaultMinLength is the shortest credential accepted by Validate when no limit is configured.
const DefaultMinLength = 50

// Classify returns KindBot for three non-empty dot-separated segments whose first
// segment is base64 text; anything else is KindUser.
func Classify(token string) Kind {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return KindUser
	}
	for _, p := range parts {
		if p == "" {
			return KindUser
		}
	}
	if !isBase64(parts[0]) {
		return KindUser
	}
	return KindBot
}

// isBase64 accepts both the standard and url-safe alphabets with optional padding,
// unpadded input included.
func isBase64(s string) bool {
	body := strings.TrimRight(s, "=")
	if body == "" || len(s)-len(body) > 2 {
		return false
	}
	for _, r := range body {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Validate rejects credentials that can never authenticate.
func Validate(token string, minLength int) error {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if token == "" {
		return fmt.Errorf("%w: empty", errs.ErrInvalidCredential)
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: contains whitespace", errs.ErrInvalidCredential)
	}
	if len(token) < minLength {
		return fmt.Errorf("%w: too short (%d < %d characters)", errs.ErrInvalidCredential, len(token), minLength)
	}
	return nil
}

// Mask keeps the first 10 and last 5 characters. Short values are cut harder so the
// full secret is never echoed back.
func Mask(token string) string {
	switch n := len(token); {
	case n > 15:
		return token[:10] + "..." + token[n-5:]
	case n > 6:
		return token[:3] + "..." + token[n-2:]
	case n > 2:
		return token[:2] + "..."
	default:
		return "***"
	}
}

// Fingerprint is a stable, non-reversible key for storage and leases.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Split parses a comma-separated credential list, trimming blanks and dropping empties.
func Split(list string) []string {
	var out []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
