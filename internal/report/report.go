// Package report writes the audit trail of a batch run: a per-host detail
// transcript, an append-only summary log, and a final console summary.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"fleetrun/internal/batch"
	"fleetrun/internal/sshexec"
)

// Annotator produces an optional short status note for a summary line from a
// host's result (e.g. a computed RAM value). Nil or empty means no note.
type Annotator func(res sshexec.Result) string

// Reporter writes results to its sinks. Writes are mutex-serialized so the
// sinks stay coherent once the orchestrator runs concurrently. Any sink write
// error is returned to the caller: the run's value is largely its audit
// trail, so a broken sink must abort rather than proceed silently.
type Reporter struct {
	mu      sync.Mutex
	summary io.Writer
	detail  io.Writer
	console io.Writer

	summaryPath string
	detailPath  string
	closers     []io.Closer
}

// New builds a reporter over caller-supplied writers.
func New(summary, detail, console io.Writer) *Reporter {
	return &Reporter{summary: summary, detail: detail, console: console}
}

// Open builds a file-backed reporter. Logs accumulate history across runs
// (append) unless truncate is requested.
func Open(summaryPath, detailPath string, truncate bool, console io.Writer) (*Reporter, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	summaryFile, err := os.OpenFile(summaryPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening summary log %s: %w", summaryPath, err)
	}
	detailFile, err := os.OpenFile(detailPath, flags, 0o644)
	if err != nil {
		summaryFile.Close()
		return nil, fmt.Errorf("opening detail log %s: %w", detailPath, err)
	}

	r := New(summaryFile, detailFile, console)
	r.summaryPath = summaryPath
	r.detailPath = detailPath
	r.closers = []io.Closer{summaryFile, detailFile}
	return r, nil
}

// Close closes any file-backed sinks.
func (r *Reporter) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriteDetail appends the forensic trail for one host: a header followed by
// the full captured output, success or not.
func (r *Reporter) WriteDetail(res sshexec.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := res.FinishedAt.Format(time.RFC3339)
	if _, err := fmt.Fprintf(r.detail, "==== %s @ %s ====\n", res.Host.CanonicalAddress, ts); err != nil {
		return fmt.Errorf("writing detail log: %w", err)
	}
	out := res.CombinedOutput
	if _, err := r.detail.Write(out); err != nil {
		return fmt.Errorf("writing detail log: %w", err)
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		if _, err := fmt.Fprintln(r.detail); err != nil {
			return fmt.Errorf("writing detail log: %w", err)
		}
	}
	if res.Err != nil {
		if _, err := fmt.Fprintf(r.detail, "error: %v (exit %d)\n", res.Err, res.ExitCode); err != nil {
			return fmt.Errorf("writing detail log: %w", err)
		}
	}
	return nil
}

// WriteSummary appends one line for one host: timestamp, OK/FAIL, host, and
// an optional note.
func (r *Reporter) WriteSummary(res sshexec.Result, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := res.FinishedAt.Format(time.RFC3339)
	line := fmt.Sprintf("%s %s %s", ts, res.Status, res.Host.CanonicalAddress)
	if note != "" {
		line += " " + note
	}
	if _, err := fmt.Fprintln(r.summary, line); err != nil {
		return fmt.Errorf("writing summary log: %w", err)
	}
	return nil
}

// Report writes details and summaries for a finished run in host-list order,
// then renders the console summary.
func (r *Reporter) Report(run batch.Run, annotate Annotator) error {
	for _, res := range run.Results {
		if err := r.WriteDetail(res); err != nil {
			return err
		}
	}
	for _, res := range run.Results {
		var note string
		if annotate != nil {
			note = annotate(res)
		}
		if err := r.WriteSummary(res, note); err != nil {
			return err
		}
	}
	return r.Console(run)
}

// Console prints the aggregate: counts, the two host-name lists, and
// pointers to the log files.
func (r *Reporter) Console(run batch.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ok, fail []string
	for _, res := range run.Results {
		if res.Status == sshexec.Success {
			ok = append(ok, res.Host.CanonicalAddress)
		} else {
			fail = append(fail, res.Host.CanonicalAddress)
		}
	}

	w := r.console
	if _, err := fmt.Fprintf(w, "\n%d succeeded, %d failed (%d total)\n",
		run.SuccessCount, run.FailureCount, len(run.Results)); err != nil {
		return fmt.Errorf("writing console summary: %w", err)
	}
	if len(ok) > 0 {
		if _, err := fmt.Fprintf(w, "succeeded: %s\n", strings.Join(ok, " ")); err != nil {
			return fmt.Errorf("writing console summary: %w", err)
		}
	}
	if len(fail) > 0 {
		if _, err := fmt.Fprintf(w, "failed:    %s\n", strings.Join(fail, " ")); err != nil {
			return fmt.Errorf("writing console summary: %w", err)
		}
	}
	if r.summaryPath != "" {
		if _, err := fmt.Fprintf(w, "summary log: %s\ndetail log:  %s\n", r.summaryPath, r.detailPath); err != nil {
			return fmt.Errorf("writing console summary: %w", err)
		}
	}
	return nil
}
