// Package errors classifies fleetrun failures and maps them to process exit
// codes.
package errors

import (
	"net"
	"strings"
)

// Class is the failure taxonomy: where in the pipeline a failure arose.
type Class int

const (
	// Precondition covers local validation failures: missing or too-open
	// credential files, missing host lists, bad configuration.
	Precondition Class = iota

	// Transport covers network-level failures: dial timeout, refused
	// connection, handshake or host-key rejection. Never retried by the
	// core.
	Transport

	// Remote covers a nonzero exit from the remote command itself.
	Remote

	// Reporter covers audit-trail sink failures. Fatal for the run.
	Reporter

	// Unknown covers anything unclassified.
	Unknown
)

func (c Class) String() string {
	switch c {
	case Precondition:
		return "precondition"
	case Transport:
		return "transport"
	case Remote:
		return "remote"
	case Reporter:
		return "reporter"
	default:
		return "unknown"
	}
}

// Classified wraps an error with its class.
type Classified struct {
	Class    Class
	Original error
	Message  string
}

func (e *Classified) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Original != nil {
		return e.Original.Error()
	}
	return "unknown error"
}

func (e *Classified) Unwrap() error { return e.Original }

// ClassifyTransport reports whether an error looks like a network-level
// failure rather than a local one. String matching is the fallback; net.Error
// timeouts are detected structurally.
func ClassifyTransport(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, kw := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no route to host",
		"network unreachable",
		"host unreachable",
		"handshake",
		"host key",
		"broken pipe",
		"unexpected eof",
	} {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// SetupError is a configuration or precondition failure affecting the whole
// run. The process exits 2.
type SetupError struct {
	Message string
	Err     error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SetupError) Unwrap() error { return e.Err }

// RunError means the batch completed but one or more hosts failed. The
// process exits 1 so scripting callers can detect partial failure.
type RunError struct {
	Message string
}

func (e *RunError) Error() string { return e.Message }

// ExitCode maps a CLI error to the process exit status: 0 success, 1 any
// host failed, 2 setup or precondition failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch err.(type) {
	case *RunError:
		return 1
	case *SetupError:
		return 2
	default:
		return 2
	}
}
