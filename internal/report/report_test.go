package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetrun/internal/batch"
	"fleetrun/internal/hostspec"
	"fleetrun/internal/sshexec"
)

func result(host string, status sshexec.Status, output string) sshexec.Result {
	return sshexec.Result{
		Host:           hostspec.Spec{RawToken: host, CanonicalAddress: host},
		Status:         status,
		CombinedOutput: []byte(output),
		StartedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt:     time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC),
	}
}

func TestReportDetailHeadersInOrder(t *testing.T) {
	var summary, detail, console bytes.Buffer
	r := New(&summary, &detail, &console)

	run := batch.Run{
		Results: []sshexec.Result{
			result("alpha.lan", sshexec.Success, "up 12 days\n"),
			result("beta.lan", sshexec.Failure, "connection refused"),
			result("gamma.lan", sshexec.Success, "up 2 days\n"),
		},
		SuccessCount: 2,
		FailureCount: 1,
	}

	if err := r.Report(run, nil); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	// One header block per host, in host-list order, every host present
	// regardless of outcome.
	text := detail.String()
	var lastIdx int
	for _, host := range []string{"alpha.lan", "beta.lan", "gamma.lan"} {
		header := fmt.Sprintf("==== %s @ ", host)
		idx := strings.Index(text, header)
		if idx < 0 {
			t.Fatalf("detail log missing header for %s:\n%s", host, text)
		}
		if idx < lastIdx {
			t.Errorf("header for %s out of order", host)
		}
		lastIdx = idx
	}
}

func TestReportSummaryTags(t *testing.T) {
	var summary, detail, console bytes.Buffer
	r := New(&summary, &detail, &console)

	run := batch.Run{
		Results: []sshexec.Result{
			result("alpha.lan", sshexec.Success, ""),
			result("gamma", sshexec.Failure, ""),
		},
		SuccessCount: 1,
		FailureCount: 1,
	}

	annotate := func(res sshexec.Result) string {
		if res.Host.CanonicalAddress == "alpha.lan" {
			return "ram=8013436kB"
		}
		return ""
	}
	if err := r.Report(run, annotate); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(summary.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("summary has %d lines, want 2:\n%s", len(lines), summary.String())
	}
	if !strings.Contains(lines[0], " OK alpha.lan ram=8013436kB") {
		t.Errorf("summary line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], " FAIL gamma") {
		t.Errorf("summary line 1 = %q", lines[1])
	}
}

func TestReportConsoleTotals(t *testing.T) {
	var summary, detail, console bytes.Buffer
	r := New(&summary, &detail, &console)

	run := batch.Run{
		Results: []sshexec.Result{
			result("alpha.lan", sshexec.Success, ""),
			result("beta.lan", sshexec.Failure, ""),
		},
		SuccessCount: 1,
		FailureCount: 1,
	}
	if err := r.Report(run, nil); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	out := console.String()
	for _, want := range []string{"1 succeeded, 1 failed (2 total)", "succeeded: alpha.lan", "failed:    beta.lan"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
}

func TestOpenAppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "summary.log")
	detailPath := filepath.Join(dir, "detail.log")

	for i := 0; i < 2; i++ {
		r, err := Open(summaryPath, detailPath, false, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if err := r.WriteSummary(result("alpha.lan", sshexec.Success, ""), ""); err != nil {
			t.Fatalf("WriteSummary() error = %v", err)
		}
		if err := r.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	data, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "alpha.lan"); got != 2 {
		t.Errorf("summary log after two runs has %d lines for host, want 2", got)
	}
}

func TestOpenTruncate(t *testing.T) {
	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "summary.log")
	detailPath := filepath.Join(dir, "detail.log")

	if err := os.WriteFile(summaryPath, []byte("old history\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(summaryPath, detailPath, true, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	if err := r.WriteSummary(result("alpha.lan", sshexec.Success, ""), ""); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(summaryPath)
	if strings.Contains(string(data), "old history") {
		t.Error("truncate did not discard previous contents")
	}
}

// failWriter returns an error on every write.
type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSinkErrorPropagates(t *testing.T) {
	r := New(failWriter{}, failWriter{}, &bytes.Buffer{})
	run := batch.Run{Results: []sshexec.Result{result("alpha.lan", sshexec.Success, "x")}}
	if err := r.Report(run, nil); err == nil {
		t.Error("Report() = nil error with broken sink, want error")
	}
}
