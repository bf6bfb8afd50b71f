// Package namespace is the single source of truth for tenant namespace
// identifiers. Every dynamic identifier that ends up in a cache key or an
// interpolated SQL identifier must pass through Normalize or FromSlug.
package namespace

import (
	"fmt"
	"regexp"
	"strings"
)

// Default is the fallback namespace used by soft-mode call sites and by
// requests that carry no tenant identifier at all.
const Default = "public"

// Mode selects how Normalize reacts to invalid input.
type Mode int

const (
	// Strict rejects invalid input with an *InvalidError.
	Strict Mode = iota
	// Soft degrades invalid or empty input to the Default namespace.
	Soft
)

var validNamespace = regexp.MustCompile(`^[a-z0-9_]+$`)

// InvalidError reports a namespace that failed strict validation. Label is a
// caller-supplied context tag intended for logs only; it is deliberately kept
// out of Error() so log lines stay the one place that identifies call sites.
type InvalidError struct {
	Input string
	Label string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid namespace %q", e.Input)
}

// Normalize lowercases and trims raw, then validates it against [a-z0-9_]+.
// Strict mode returns an *InvalidError on failure; Soft mode returns Default
// on failure or empty input. The two modes must not be mixed within one call
// chain.
func Normalize(raw string, mode Mode) (string, error) {
	return NormalizeLabeled(raw, mode, "")
}

// NormalizeLabeled is Normalize with a context label attached to any error.
func NormalizeLabeled(raw string, mode Mode, label string) (string, error) {
	ns := strings.ToLower(strings.TrimSpace(raw))
	if validNamespace.MatchString(ns) {
		return ns, nil
	}
	if mode == Soft {
		return Default, nil
	}
	return "", &InvalidError{Input: raw, Label: label}
}

// FromSlug converts a tenant slug into a namespace at tenant-creation time:
// hyphens become underscores and any other disallowed rune is dropped. It is
// never used on the request path.
func FromSlug(slug string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(slug)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-':
			b.WriteByte('_')
		}
	}
	return Normalize(b.String(), Strict)
}

// QuoteIdent renders an already-normalized namespace as a delimited Postgres
// identifier. It strict-validates first so a raw string can never reach an
// interpolated query even if a caller skips Normalize.
func QuoteIdent(ns string) (string, error) {
	ns, err := Normalize(ns, Strict)
	if err != nil {
		return "", err
	}
	return `"` + ns + `"`, nil
}
