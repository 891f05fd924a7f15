package sshexec

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"fleetrun/internal/logging"
)

// Policy names a host-key trust policy. The right choice depends on network
// trust assumptions, so it is supplied by configuration rather than
// hardcoded.
type Policy string

const (
	// PolicyKnownHosts accepts only hosts already present in known_hosts.
	PolicyKnownHosts Policy = "known-hosts"

	// PolicyAcceptNew trusts unseen host keys on first use, records them,
	// and rejects changed ones. Matches a trusted-LAN threat model.
	PolicyAcceptNew Policy = "accept-new"

	// PolicyInsecure skips verification entirely.
	PolicyInsecure Policy = "insecure"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyKnownHosts, PolicyAcceptNew, PolicyInsecure:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown host-key policy %q: want known-hosts, accept-new, or insecure", s)
	}
}

// DefaultKnownHostsPath returns the user known_hosts file, falling back to
// the system one.
func DefaultKnownHostsPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ssh", "known_hosts")
	}
	return "/etc/ssh/ssh_known_hosts"
}

// NewVerifier builds the verifier for a policy. knownHostsPath may be empty
// to use the default location.
func NewVerifier(policy Policy, knownHostsPath string, logger *logging.Logger) (HostKeyVerifier, error) {
	if knownHostsPath == "" {
		knownHostsPath = DefaultKnownHostsPath()
	}
	switch policy {
	case PolicyKnownHosts:
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts %s: %w", knownHostsPath, err)
		}
		return staticVerifier{cb: cb}, nil
	case PolicyAcceptNew:
		return &acceptNewVerifier{path: knownHostsPath, logger: logger}, nil
	case PolicyInsecure:
		return InsecurePolicy(logger), nil
	default:
		return nil, fmt.Errorf("unknown host-key policy %q", policy)
	}
}

type staticVerifier struct {
	cb ssh.HostKeyCallback
}

func (v staticVerifier) Callback() ssh.HostKeyCallback { return v.cb }

// acceptNewVerifier implements trust-on-first-use: unknown hosts are appended
// to known_hosts and accepted, changed keys are rejected.
type acceptNewVerifier struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

func (v *acceptNewVerifier) Callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		v.mu.Lock()
		defer v.mu.Unlock()

		cb, err := knownhosts.New(v.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("loading known_hosts %s: %w", v.path, err)
			}
			return v.record(hostname, remote, key)
		}

		err = cb(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			// Never seen before: trust on first use.
			return v.record(hostname, remote, key)
		}
		// Known with a different key: refuse to connect.
		return fmt.Errorf("host key for %s changed: %w", hostname, err)
	}
}

func (v *acceptNewVerifier) record(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("creating known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(v.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening known_hosts %s: %w", v.path, err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname), knownhosts.Normalize(remote.String())}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("recording host key for %s: %w", hostname, err)
	}
	if v.logger != nil {
		v.logger.Info("recorded new host key", "host", hostname, "known_hosts", v.path)
	}
	return nil
}

type insecureVerifier struct {
	logger *logging.Logger
}

// InsecurePolicy returns a verifier that accepts any host key, logging a
// warning on each use.
func InsecurePolicy(logger *logging.Logger) HostKeyVerifier {
	return insecureVerifier{logger: logger}
}

func (v insecureVerifier) Callback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if v.logger != nil {
			v.logger.Warn("host key verification disabled", "host", hostname)
		}
		return nil
	}
}
