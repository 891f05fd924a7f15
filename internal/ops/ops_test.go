package ops

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetrun/internal/hostspec"
	"fleetrun/internal/keyring"
	"fleetrun/internal/secrets"
	"fleetrun/internal/sshexec"
)

func TestRAMAnnotate(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"typical meminfo line", "MemTotal:        8013436 kB\n", "ram=8013436kB"},
		{"no match", "command not found\n", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (RAM{}).Annotate([]byte(tt.output)); got != tt.want {
				t.Errorf("Annotate(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

func TestOSInfoAnnotate(t *testing.T) {
	got := (OSInfo{}).Annotate([]byte("Debian GNU/Linux 12 aarch64\nextra noise\n"))
	if got != "Debian GNU/Linux 12 aarch64" {
		t.Errorf("Annotate() = %q", got)
	}
}

func TestShutdownDescribe(t *testing.T) {
	tests := []struct {
		name string
		op   Shutdown
		want string
	}{
		{"halt now", Shutdown{}, "sudo -n shutdown -h now"},
		{"halt delayed", Shutdown{Delay: 5 * time.Minute}, "sudo -n shutdown -h +5"},
		{"reboot", Shutdown{Reboot: true, Delay: time.Minute}, "sudo -n shutdown -r +1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := tt.op.Describe(nil)
			if err != nil {
				t.Fatal(err)
			}
			if op.RemoteCommand != tt.want {
				t.Errorf("RemoteCommand = %q, want %q", op.RemoteCommand, tt.want)
			}
		})
	}
}

func TestCommandDescribeRejectsEmpty(t *testing.T) {
	if _, err := (Command{CommandLine: "  "}).Describe(nil); err == nil {
		t.Error("Describe() = nil error for empty command, want error")
	}
}

func loadSecrets(t *testing.T, content string) *secrets.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := secrets.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAddUserDescribe(t *testing.T) {
	dir := t.TempDir()
	pubKeyPath := filepath.Join(dir, "new_user.pub")
	if err := os.WriteFile(pubKeyPath, []byte("ssh-ed25519 AAAA... ops@lab\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := loadSecrets(t,
		"NEW_USER_NAME=deploy\nNEW_USER_PASSWORD=hunter2\nPUBKEY_FILE="+pubKeyPath+"\n")

	op, err := AddUser{}.Describe(store)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	// Neither secret may appear on the remote command line.
	if strings.Contains(op.RemoteCommand, "hunter2") || strings.Contains(op.RemoteCommand, "deploy") {
		t.Errorf("secrets leaked into command line: %q", op.RemoteCommand)
	}
	if op.Env["FLEETRUN_NEW_USER"] != "deploy" {
		t.Errorf("Env[FLEETRUN_NEW_USER] = %q", op.Env["FLEETRUN_NEW_USER"])
	}
	if !op.UsesStdin {
		t.Fatal("UsesStdin = false, want true")
	}

	stdin, err := op.Stdin()
	if err != nil {
		t.Fatal(err)
	}
	payload, _ := io.ReadAll(stdin)
	lines := strings.SplitN(string(payload), "\n", 2)
	if lines[0] != "hunter2" {
		t.Errorf("payload first line = %q, want password", lines[0])
	}
	if !strings.Contains(lines[1], "ssh-ed25519") {
		t.Errorf("payload rest = %q, want public key", lines[1])
	}
}

func TestAddUserDescribeMissingSecrets(t *testing.T) {
	store := loadSecrets(t, "NEW_USER_NAME=deploy\n")
	if _, err := (AddUser{}).Describe(store); err == nil {
		t.Error("Describe() = nil error with missing secrets, want error")
	}
}

func TestSyncDescribe(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "deploy.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "lib", "common.sh"), []byte("true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	op, err := Sync{SourceDir: src, DestDir: "/opt/scripts"}.Describe(nil)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !op.UsesStdin {
		t.Fatal("UsesStdin = false, want true")
	}
	if !strings.Contains(op.RemoteCommand, "tar -xf -") {
		t.Errorf("RemoteCommand = %q", op.RemoteCommand)
	}

	// Each invocation must yield a fresh, complete archive.
	for i := 0; i < 2; i++ {
		stdin, err := op.Stdin()
		if err != nil {
			t.Fatal(err)
		}
		names := map[string]bool{}
		tr := tar.NewReader(stdin)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("reading archive: %v", err)
			}
			names[hdr.Name] = true
		}
		for _, want := range []string{"deploy.sh", "lib/", "lib/common.sh"} {
			if !names[want] {
				t.Errorf("archive %d missing %q (got %v)", i, want, names)
			}
		}
	}
}

func TestSyncDescribeMissingSource(t *testing.T) {
	if _, err := (Sync{SourceDir: "/does/not/exist", DestDir: "/tmp"}).Describe(nil); err == nil {
		t.Error("Describe() = nil error for missing source, want error")
	}
}

// captureRunner records the operation it was handed.
type captureRunner struct {
	got sshexec.Operation
}

func (c *captureRunner) Run(ctx context.Context, op sshexec.Operation, host hostspec.Spec, cred keyring.Credential) sshexec.Result {
	c.got = op
	return sshexec.Result{Host: host, Status: sshexec.Success}
}

func TestTemplatedRunnerExpandsPerHost(t *testing.T) {
	inner := &captureRunner{}
	r := TemplatedRunner{Inner: inner}

	host := hostspec.Resolve("web-01", "lan")
	res := r.Run(context.Background(), sshexec.Operation{RemoteCommand: "echo {{.BareName}}"}, host, keyring.Credential{})

	if res.Status != sshexec.Success {
		t.Fatalf("Status = %v", res.Status)
	}
	if inner.got.RemoteCommand != "echo web-01" {
		t.Errorf("expanded command = %q", inner.got.RemoteCommand)
	}
}

func TestTemplatedRunnerBadTemplateIsPerHostFailure(t *testing.T) {
	inner := &captureRunner{}
	r := TemplatedRunner{Inner: inner}

	host := hostspec.Resolve("web-01", "lan")
	res := r.Run(context.Background(), sshexec.Operation{RemoteCommand: "echo {{.Bogus}}"}, host, keyring.Credential{})

	if res.Status != sshexec.Failure {
		t.Errorf("Status = %v, want Failure", res.Status)
	}
	if res.Err == nil {
		t.Error("Err = nil, want template error")
	}
}
