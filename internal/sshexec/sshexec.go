// Package sshexec performs single remote operations over SSH: one session per
// call, bounded connect timeout, no prompts, combined output capture.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	errs "fleetrun/internal/errors"
	"fleetrun/internal/hostspec"
	"fleetrun/internal/keyring"
	"fleetrun/internal/logging"
)

// Sentinel exit codes. Callers must be able to tell "never connected" apart
// from "connected but the command failed", even though both count as Failure.
const (
	// ExitTransport marks a failure that yielded no remote exit status:
	// dial timeout, refused connection, handshake or host-key rejection,
	// or post-handshake session setup. Result.Err carries the class
	// separating "never connected" from "connected, no status".
	ExitTransport = 255

	// ExitTimeout marks an in-flight operation cut off by context expiry.
	ExitTimeout = 124

	// ExitCanceled marks a host that was never started because the run was
	// canceled before its turn.
	ExitCanceled = 125
)

// DefaultConnectTimeout bounds the TCP dial when an Operation does not set
// its own.
const DefaultConnectTimeout = 5 * time.Second

// Status is the two-valued outcome of an operation.
type Status int

const (
	Success Status = iota
	Failure
)

func (s Status) String() string {
	if s == Success {
		return "OK"
	}
	return "FAIL"
}

// Operation describes one unit of remote work plus its transport knobs.
type Operation struct {
	RemoteCommand  string
	ConnectTimeout time.Duration // zero means DefaultConnectTimeout

	// UsesStdin attaches a fresh Stdin reader to the remote session. When
	// false the session's stdin is explicitly nulled so a batch loop
	// reading a host list from its own stdin is never consumed by the
	// remote call. Stdin is a factory because the same Operation runs
	// against many hosts and each session needs an unconsumed stream.
	UsesStdin bool
	Stdin     func() (io.Reader, error)

	// Env is delivered via the SSH session environment, never on the
	// remote command line.
	Env map[string]string
}

// Result is the immutable outcome of running one Operation against one host.
type Result struct {
	Host           hostspec.Spec
	Status         Status
	ExitCode       int
	CombinedOutput []byte
	StartedAt      time.Time
	FinishedAt     time.Time
	Err            error
}

// Runner executes one operation against one host. Satisfied by *Client and by
// test stubs.
type Runner interface {
	Run(ctx context.Context, op Operation, host hostspec.Spec, cred keyring.Credential) Result
}

// Client runs operations over golang.org/x/crypto/ssh. It is safe for
// concurrent use: every Run opens and closes its own connection, which keeps
// failure isolation between hosts simple.
type Client struct {
	User     string
	Port     int // zero means 22
	HostKeys HostKeyVerifier
	Logger   *logging.Logger
}

// HostKeyVerifier is the externally supplied host-key trust policy.
type HostKeyVerifier interface {
	Callback() ssh.HostKeyCallback
}

// syncWriter serializes interleaved stdout/stderr into one combined stream,
// best-effort ordered the way a terminal would show them.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

// Run executes op on host. Transport failures come back as Failure with
// ExitTransport; a nonzero remote exit status comes back as Failure with the
// observed code. There is no transport-level retry.
func (c *Client) Run(ctx context.Context, op Operation, host hostspec.Spec, cred keyring.Credential) Result {
	result := Result{Host: host, StartedAt: time.Now()}
	defer func() { result.FinishedAt = time.Now() }()

	conn, err := c.dial(ctx, op, host, cred)
	if err != nil {
		return c.transportFailure(result, host, err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return c.transportFailure(result, host, fmt.Errorf("opening session: %w", err))
	}
	defer session.Close()

	for k, v := range op.Env {
		if err := session.Setenv(k, v); err != nil {
			return c.sessionFailure(result, host, fmt.Errorf("setting env %s: %w", k, err))
		}
	}

	combined := &syncWriter{}
	session.Stdout = combined
	session.Stderr = combined

	// Host-list iteration and remote invocation must never share a stdin
	// stream, so the session gets input only when the operation asks.
	session.Stdin = nil
	if op.UsesStdin && op.Stdin != nil {
		stdin, err := op.Stdin()
		if err != nil {
			return c.sessionFailure(result, host, fmt.Errorf("preparing stdin: %w", err))
		}
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(op.RemoteCommand)
	}()

	select {
	case err := <-done:
		result.CombinedOutput = combined.bytes()
		if err == nil {
			result.Status = Success
			result.ExitCode = 0
			if c.Logger != nil {
				c.Logger.LogExecution(host.CanonicalAddress, 0, time.Since(result.StartedAt))
			}
			return result
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.Status = Failure
			result.ExitCode = exitErr.ExitStatus()
			if c.Logger != nil {
				c.Logger.LogExecution(host.CanonicalAddress, result.ExitCode, time.Since(result.StartedAt))
			}
			return result
		}
		// No exit status came back. The wire may have dropped mid-run or
		// the remote side may have failed before reporting; classify by
		// the error's shape so diagnostics point at the right layer.
		if errs.ClassifyTransport(err) {
			return c.transportFailure(result, host, fmt.Errorf("session failed: %w", err))
		}
		return c.sessionFailure(result, host, fmt.Errorf("session failed: %w", err))

	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			session.Signal(ssh.SIGKILL)
		}
		result.CombinedOutput = combined.bytes()
		result.Status = Failure
		result.ExitCode = ExitTimeout
		result.Err = fmt.Errorf("operation interrupted: %w", ctx.Err())
		if c.Logger != nil {
			c.Logger.LogExecutionError(host.CanonicalAddress, result.Err)
		}
		return result
	}
}

func (c *Client) transportFailure(result Result, host hostspec.Spec, err error) Result {
	result.Status = Failure
	result.ExitCode = ExitTransport
	result.Err = &errs.Classified{Class: errs.Transport, Original: err}
	if c.Logger != nil {
		c.Logger.LogConnectionError(host.CanonicalAddress, err)
	}
	return result
}

// sessionFailure records a post-handshake failure: the connection was up but
// the command produced no usable exit status. Same sentinel code as a
// transport failure (there is no remote status to report), different class
// and log channel so diagnostics point past the network.
func (c *Client) sessionFailure(result Result, host hostspec.Spec, err error) Result {
	result.Status = Failure
	result.ExitCode = ExitTransport
	result.Err = &errs.Classified{Class: errs.Remote, Original: err}
	if c.Logger != nil {
		c.Logger.LogExecutionError(host.CanonicalAddress, result.Err)
	}
	return result
}

func (c *Client) dial(ctx context.Context, op Operation, host hostspec.Spec, cred keyring.Credential) (*ssh.Client, error) {
	config, err := c.buildConfig(op, cred)
	if err != nil {
		return nil, err
	}

	port := c.Port
	if port == 0 {
		port = 22
	}
	address := net.JoinHostPort(host.CanonicalAddress, fmt.Sprintf("%d", port))

	dialer := &net.Dialer{Timeout: config.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", address, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *Client) buildConfig(op Operation, cred keyring.Credential) (*ssh.ClientConfig, error) {
	timeout := op.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	auth, err := c.authMethods(cred)
	if err != nil {
		return nil, err
	}

	verifier := c.HostKeys
	if verifier == nil {
		verifier = InsecurePolicy(c.Logger)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: verifier.Callback(),
		Timeout:         timeout,
	}, nil
}

// authMethods prefers the agent, then the resolved per-host key. Batch-mode
// equivalent: no interactive prompts are ever offered.
func (c *Client) authMethods(cred keyring.Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if agentConn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		}
	}

	if cred.KeyPath != "" {
		keyBytes, err := os.ReadFile(cred.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key %s: %w", cred.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing private key %s: %w", cred.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}
	return methods, nil
}

// CanceledResult synthesizes the Failure recorded for a host skipped by
// run-level cancellation. Skipped hosts are reported, never dropped.
func CanceledResult(host hostspec.Spec, err error) Result {
	now := time.Now()
	return Result{
		Host:       host,
		Status:     Failure,
		ExitCode:   ExitCanceled,
		StartedAt:  now,
		FinishedAt: now,
		Err:        fmt.Errorf("skipped: %w", err),
	}
}

// PreconditionResult synthesizes the Failure recorded for a host whose local
// credential check failed; no network attempt is made for these.
func PreconditionResult(host hostspec.Spec, err error) Result {
	now := time.Now()
	return Result{
		Host:       host,
		Status:     Failure,
		ExitCode:   ExitTransport,
		StartedAt:  now,
		FinishedAt: now,
		Err:        &errs.Classified{Class: errs.Precondition, Original: err},
	}
}
