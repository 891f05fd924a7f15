// Package batch orchestrates one operation across many hosts with bounded
// concurrency and strict failure isolation.
package batch

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fleetrun/internal/hostspec"
	"fleetrun/internal/keyring"
	"fleetrun/internal/logging"
	"fleetrun/internal/sshexec"
)

// Run is the aggregate outcome of a batch. Results hold one entry per host
// token, in host-list order, regardless of completion order.
type Run struct {
	Results      []sshexec.Result
	SuccessCount int
	FailureCount int
}

// Failed returns the failed results, preserving order. The caller can re-run
// just this subset; the orchestrator itself never retries.
func (r Run) Failed() []sshexec.Result {
	var out []sshexec.Result
	for _, res := range r.Results {
		if res.Status == sshexec.Failure {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded returns the successful results, preserving order.
func (r Run) Succeeded() []sshexec.Result {
	var out []sshexec.Result
	for _, res := range r.Results {
		if res.Status == sshexec.Success {
			out = append(out, res)
		}
	}
	return out
}

// CredentialFunc resolves the credential for a host token. A nil func means
// every host uses default authentication.
type CredentialFunc func(hostspec.Token) keyring.Credential

// Observer is notified as each host completes, in completion order. Used for
// progress display; the authoritative ordered record is Run.Results.
type Observer func(res sshexec.Result)

// Orchestrator drives the executor across a host list.
type Orchestrator struct {
	Runner      sshexec.Runner
	Credentials CredentialFunc
	Concurrency int // workers; values below 1 behave as 1 (sequential)
	Logger      *logging.Logger
	Observer    Observer
}

// Execute runs op against every host token. One host's failure never prevents
// processing of the rest. A host whose credential is not strict is recorded
// as a Failure without any executor invocation. Context cancellation records
// unstarted hosts as Failure with the cancellation sentinel rather than
// dropping them.
func (o *Orchestrator) Execute(ctx context.Context, tokens []hostspec.Token, defaultDomain string, op sshexec.Operation) Run {
	started := time.Now()

	specs := make([]hostspec.Spec, len(tokens))
	for i, tok := range tokens {
		specs[i] = hostspec.Resolve(string(tok), defaultDomain)
	}

	workers := o.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(tokens) && len(tokens) > 0 {
		workers = len(tokens)
	}

	if o.Logger != nil {
		o.Logger.LogBatchStart(len(tokens), workers)
	}

	results := make([]sshexec.Result, len(tokens))
	jobs := make(chan int)

	var obsMu sync.Mutex
	notify := func(res sshexec.Result) {
		if o.Observer == nil {
			return
		}
		obsMu.Lock()
		defer obsMu.Unlock()
		o.Observer(res)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := o.runHost(ctx, tokens[i], specs[i], op)
				results[i] = res
				notify(res)
			}
		}()
	}

	for i := range tokens {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	run := Run{Results: results}
	for _, res := range results {
		if res.Status == sshexec.Success {
			run.SuccessCount++
		} else {
			run.FailureCount++
		}
	}

	if o.Logger != nil {
		o.Logger.LogBatchComplete(len(tokens), run.SuccessCount, run.FailureCount, time.Since(started))
	}
	return run
}

func (o *Orchestrator) runHost(ctx context.Context, token hostspec.Token, spec hostspec.Spec, op sshexec.Operation) sshexec.Result {
	select {
	case <-ctx.Done():
		return sshexec.CanceledResult(spec, ctx.Err())
	default:
	}

	if o.Credentials != nil {
		cred := o.Credentials(token)
		if err := cred.Err(); err != nil {
			if o.Logger != nil {
				o.Logger.LogCredentialRejected(spec.CanonicalAddress, err)
			}
			return sshexec.PreconditionResult(spec, err)
		}
		return o.Runner.Run(ctx, op, spec, cred)
	}
	return o.Runner.Run(ctx, op, spec, keyring.Credential{})
}

// ParseConcurrency parses the concurrency knob: "auto" maps to
// min(32, hosts), otherwise a positive integer.
func ParseConcurrency(s string, hostCount int) (int, error) {
	if s == "" || s == "auto" {
		if hostCount < 1 {
			return 1, nil
		}
		if hostCount < 32 {
			return hostCount, nil
		}
		return 32, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid concurrency %q: must be 'auto' or a positive integer", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("concurrency must be at least 1, got %d", n)
	}
	if n > 1000 {
		return 0, fmt.Errorf("concurrency too high: %d (maximum 1000)", n)
	}
	return n, nil
}
