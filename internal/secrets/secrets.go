// Package secrets loads the .secrets key-value collaborator file. The
// executor core never reads this file itself; the CLI loads it and hands
// validated strings to the operations that need them.
package secrets

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// Conventional keys.
const (
	KeyUserName        = "USER_NAME"
	KeySSHKeyPath      = "SSH_KEY_PATH"
	KeyNewUserName     = "NEW_USER_NAME"
	KeyNewUserPassword = "NEW_USER_PASSWORD"
	KeyPubKeyFile      = "PUBKEY_FILE"
)

// Store holds loaded secrets.
type Store struct {
	path    string
	section *ini.Section
}

// Load reads a .secrets file. Missing file or lax permissions are run-level
// precondition failures: secrets readable beyond their owner are refused the
// same way too-open SSH keys are.
func Load(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("secrets file %s: %w", path, err)
	}
	if info.Mode().Perm()&(fs.ModePerm^0o700) != 0 {
		return nil, fmt.Errorf("secrets file %s: permissions too open, want 0600 or stricter", path)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return &Store{path: path, section: cfg.Section(ini.DefaultSection)}, nil
}

// Get returns a secret value and whether it was present and non-empty.
func (s *Store) Get(key string) (string, bool) {
	if s == nil || !s.section.HasKey(key) {
		return "", false
	}
	v := s.section.Key(key).String()
	return v, v != ""
}

// Require returns the named values, or one error listing every missing key.
func (s *Store) Require(keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	var missing []string
	for _, key := range keys {
		v, ok := s.Get(key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		values[key] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("secrets file %s: missing %s", s.path, strings.Join(missing, ", "))
	}
	return values, nil
}
