// Package keyring maps hosts to SSH key credentials and validates their
// permission strictness before any connection is attempted.
package keyring

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"fleetrun/internal/hostspec"
)

// PermissionClass classifies a credential's local precondition state.
type PermissionClass int

const (
	// Strict means the key exists with owner-only mode (0600 or 0400).
	Strict PermissionClass = iota

	// TooOpen means the key exists but is readable beyond its owner.
	TooOpen

	// Missing means the key file does not exist.
	Missing
)

func (pc PermissionClass) String() string {
	switch pc {
	case Strict:
		return "strict"
	case TooOpen:
		return "too-open"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Credential is a resolved per-host SSH key. A zero KeyPath with class Strict
// means no specific key was configured and default auth (agent) applies.
type Credential struct {
	KeyPath string
	Class   PermissionClass
}

// Err returns a precondition error unless the credential is strict.
func (c Credential) Err() error {
	switch c.Class {
	case Strict:
		return nil
	case Missing:
		return fmt.Errorf("ssh key %s: file does not exist", c.KeyPath)
	case TooOpen:
		return fmt.Errorf("ssh key %s: permissions too open, want 0600 or 0400", c.KeyPath)
	default:
		return fmt.Errorf("ssh key %s: unknown permission class", c.KeyPath)
	}
}

// Resolver resolves hosts to credentials by explicit override, by a derived
// naming convention, or by a fleet-wide default key.
type Resolver struct {
	overrides      map[string]string
	prefixTemplate string // contains a single %s for the derived key name
	defaultKey     string
}

// NewResolver builds a resolver. prefixTemplate is a path template with one
// %s placeholder for the derived key name; empty disables derivation.
// defaultKey is the key used when nothing host-specific is configured; empty
// defers to agent or default authentication.
func NewResolver(overrides map[string]string, prefixTemplate, defaultKey string) *Resolver {
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &Resolver{
		overrides:      overrides,
		prefixTemplate: prefixTemplate,
		defaultKey:     defaultKey,
	}
}

// Resolve maps a host token to a credential. The override table is consulted
// by bare host name first, then a path derived from the prefix template, then
// the fleet-wide default key. With nothing configured, the credential is
// empty and strict, deferring to agent or default authentication.
func (r *Resolver) Resolve(token hostspec.Token) Credential {
	bare := hostspec.BareName(token)

	if path, ok := r.overrides[bare]; ok {
		return validate(path)
	}
	if r.prefixTemplate != "" {
		name := strings.ReplaceAll(strings.ToLower(bare), "-", "_")
		return validate(fmt.Sprintf(r.prefixTemplate, name))
	}
	if r.defaultKey != "" {
		return validate(r.defaultKey)
	}
	return Credential{Class: Strict}
}

// validate checks existence and strict mode. Only 0600 and 0400 qualify;
// anything else, owner-execute included, disqualifies the key.
func validate(path string) Credential {
	info, err := os.Stat(path)
	if err != nil {
		return Credential{KeyPath: path, Class: Missing}
	}
	if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
		return Credential{KeyPath: path, Class: TooOpen}
	}
	return Credential{KeyPath: path, Class: Strict}
}

// ParseOverrides reads "hostname|keypath" pairs, one per line. Blank lines
// and '#' comments are skipped.
func ParseOverrides(r io.Reader) (map[string]string, error) {
	scanner := bufio.NewScanner(r)
	overrides := map[string]string{}
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		host, path, ok := strings.Cut(line, "|")
		host, path = strings.TrimSpace(host), strings.TrimSpace(path)
		if !ok || host == "" || path == "" {
			return nil, fmt.Errorf("line %d: want \"hostname|keypath\", got %q", lineNum, line)
		}
		overrides[host] = path
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading key overrides: %w", err)
	}
	return overrides, nil
}

// LoadOverrides reads an override table from a file.
func LoadOverrides(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening key overrides %s: %w", path, err)
	}
	defer f.Close()

	overrides, err := ParseOverrides(f)
	if err != nil {
		return nil, fmt.Errorf("key overrides %s: %w", path, err)
	}
	return overrides, nil
}
