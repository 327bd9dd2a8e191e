// Package credential resolves per-shop login material from the environment.
//
// Operators configure one variable per shop (LINISCO_<key>) and historically
// two encodings exist in the wild:
//
//   - a bare password: LINISCO_SC=mypassword
//   - a full login payload: LINISCO_SC='{"email": "...", "password": "..."}'
//
// Instead of re-sniffing the encoding at every use site, the variant is
// resolved once here into an explicit tagged value.
package credential

import (
	"encoding/json"
	"strings"
)

// Kind tags the credential variant.
type Kind int

const (
	// Bare is a plain password; sign-in pairs it with the shop's login email.
	Bare Kind = iota

	// Structured is a complete JSON login payload forwarded to sign-in
	// verbatim. It may carry its own email, which can differ from the
	// shop's configured login email.
	Structured
)

// Credential is the resolved login material for one shop.
type Credential struct {
	kind    Kind
	secret  string         // Bare only
	raw     string         // Structured only: cleaned JSON, forwarded as-is
	payload map[string]any // Structured only: parsed view for inspection
}

// NewBare wraps a plain password.
func NewBare(secret string) Credential {
	return Credential{kind: Bare, secret: secret}
}

// Kind reports the variant.
func (c Credential) Kind() Kind { return c.kind }

// Secret returns the bare password. Empty for structured credentials.
func (c Credential) Secret() string { return c.secret }

// RawPayload returns the structured login payload exactly as configured
// (after quote cleanup). Empty for bare credentials.
func (c Credential) RawPayload() string { return c.raw }

// PayloadKeys lists the structured payload's top-level keys. Used for debug
// output that must not reveal values.
func (c Credential) PayloadKeys() []string {
	if c.kind != Structured {
		return nil
	}
	keys := make([]string, 0, len(c.payload))
	for k := range c.payload {
		keys = append(keys, k)
	}
	return keys
}

// Email returns the email embedded in a structured payload, if any: a
// top-level "email", or "user.email" for payloads that wrap the login in a
// user object. Empty for bare credentials or payloads without one.
func (c Credential) Email() string {
	if c.kind != Structured {
		return ""
	}
	if s, ok := c.payload["email"].(string); ok && s != "" {
		return s
	}
	if user, ok := c.payload["user"].(map[string]any); ok {
		if s, ok := user["email"].(string); ok {
			return s
		}
	}
	return ""
}

// Resolve looks up envKey and classifies the value. The second return is
// false when the variable is unset or blank; the caller treats that as a
// recoverable per-shop condition, not a fatal one.
//
// Classification: a value that parses as a JSON object is Structured; any
// other value (plain string, or JSON that is not an object) is a Bare secret.
// One pair of matching wrapping quotes is stripped first to tolerate
// shell-quoting artifacts in .env files.
func Resolve(lookup func(string) (string, bool), envKey string) (Credential, bool) {
	raw, ok := lookup(envKey)
	if !ok {
		return Credential{}, false
	}

	cleaned := stripWrappingQuotes(strings.TrimSpace(raw))
	if cleaned == "" {
		return Credential{}, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil && payload != nil {
		return Credential{kind: Structured, raw: cleaned, payload: payload}, true
	}
	return NewBare(cleaned), true
}

// stripWrappingQuotes removes one pair of matching single or double quotes.
func stripWrappingQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '\'' || first == '"') {
		return s[1 : len(s)-1]
	}
	return s
}
