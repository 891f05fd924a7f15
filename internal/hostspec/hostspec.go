// Package hostspec resolves raw host tokens into canonical connection targets.
package hostspec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Token is one raw entry from a host list. It may be a bare name, an FQDN,
// an IPv4 literal, or a "host@domain" inline domain override.
type Token string

// Spec is the resolved identity of one host.
type Spec struct {
	RawToken         string // Token as it appeared in the source list
	CanonicalAddress string // Address handed to the transport
	DomainApplied    bool   // True when a domain suffix was appended
}

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// Resolve normalizes a host token against an optional default domain.
//
// Rules, in priority order: an inline "host@domain" override wins over any
// default domain; IPv4 literals and already-dotted names pass through
// unchanged; bare names get the default domain only when one is configured.
// Resolve never fails: it always yields a usable (if possibly unreachable)
// address.
func Resolve(token, defaultDomain string) Spec {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(token), "\r"))
	spec := Spec{RawToken: raw}

	if host, domain, ok := strings.Cut(raw, "@"); ok {
		spec.CanonicalAddress = host + "." + strings.TrimPrefix(domain, ".")
		spec.DomainApplied = true
		return spec
	}

	if ipv4Pattern.MatchString(raw) || strings.Contains(raw, ".") {
		spec.CanonicalAddress = raw
		return spec
	}

	if defaultDomain != "" {
		spec.CanonicalAddress = raw + "." + strings.TrimPrefix(defaultDomain, ".")
		spec.DomainApplied = true
		return spec
	}

	spec.CanonicalAddress = raw
	return spec
}

// BareName returns the host part of a token: everything before an inline
// "@domain" override and before the first dot. IPv4 literals are returned
// unchanged.
func BareName(token Token) string {
	s := strings.TrimSpace(string(token))
	if ipv4Pattern.MatchString(s) {
		return s
	}
	if host, _, ok := strings.Cut(s, "@"); ok {
		s = host
	}
	if host, _, ok := strings.Cut(s, "."); ok {
		s = host
	}
	return s
}

// ReadTokens reads a line-oriented host list. Blank lines and lines whose
// first non-whitespace character is '#' are skipped.
func ReadTokens(r io.Reader) ([]Token, error) {
	scanner := bufio.NewScanner(r)
	var tokens []Token

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, Token(line))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading host list: %w", err)
	}
	return tokens, nil
}

// ReadTokenFile reads a host list from a file.
func ReadTokenFile(path string) ([]Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening host list %s: %w", path, err)
	}
	defer f.Close()

	tokens, err := ReadTokens(f)
	if err != nil {
		return nil, fmt.Errorf("host list %s: %w", path, err)
	}
	return tokens, nil
}

// ParseTokens splits a comma-separated host specification string.
func ParseTokens(input string) []Token {
	var tokens []Token
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens = append(tokens, Token(part))
	}
	return tokens
}
