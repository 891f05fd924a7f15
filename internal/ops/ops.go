// Package ops defines the predefined fleet operations: typed descriptions of
// remote actions, replacing per-action shell scripts with small values the
// orchestrator treats as opaque work.
package ops

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"fleetrun/internal/hostspec"
	"fleetrun/internal/keyring"
	"fleetrun/internal/secrets"
	"fleetrun/internal/sshexec"
	"fleetrun/internal/template"
)

// Op is one fleet action. Describe may consult secrets for its payload;
// everything it returns is already validated.
type Op interface {
	Name() string
	Describe(store *secrets.Store) (sshexec.Operation, error)
}

// Annotator is implemented by ops that can distill a short status note for
// the summary log from a host's captured output.
type Annotator interface {
	Annotate(combinedOutput []byte) string
}

// Update runs the package update/upgrade cycle.
type Update struct{}

func (Update) Name() string { return "update" }

func (Update) Describe(*secrets.Store) (sshexec.Operation, error) {
	return sshexec.Operation{
		RemoteCommand: "sudo -n env DEBIAN_FRONTEND=noninteractive apt-get -q update && " +
			"sudo -n env DEBIAN_FRONTEND=noninteractive apt-get -q -y upgrade",
	}, nil
}

// OSInfo queries OS name, version, and architecture.
type OSInfo struct{}

func (OSInfo) Name() string { return "osinfo" }

func (OSInfo) Describe(*secrets.Store) (sshexec.Operation, error) {
	return sshexec.Operation{
		RemoteCommand: `. /etc/os-release && printf '%s %s %s\n' "$NAME" "$VERSION_ID" "$(uname -m)"`,
	}, nil
}

func (OSInfo) Annotate(output []byte) string {
	return firstLine(output)
}

// RAM queries total memory.
type RAM struct{}

func (RAM) Name() string { return "ram" }

func (RAM) Describe(*secrets.Store) (sshexec.Operation, error) {
	return sshexec.Operation{
		RemoteCommand: "grep MemTotal /proc/meminfo",
	}, nil
}

var memTotalPattern = regexp.MustCompile(`MemTotal:\s*(\d+)\s*kB`)

// Annotate extracts the MemTotal value for the summary line.
func (RAM) Annotate(output []byte) string {
	m := memTotalPattern.FindSubmatch(output)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("ram=%skB", m[1])
}

// Ping is the connectivity test: succeeds iff a session can be opened and a
// trivial command exits zero.
type Ping struct{}

func (Ping) Name() string { return "ping" }

func (Ping) Describe(*secrets.Store) (sshexec.Operation, error) {
	return sshexec.Operation{RemoteCommand: "true"}, nil
}

// Shutdown schedules a shutdown or reboot.
type Shutdown struct {
	Reboot bool
	Delay  time.Duration // rounded down to whole minutes; 0 means now
}

func (s Shutdown) Name() string {
	if s.Reboot {
		return "reboot"
	}
	return "shutdown"
}

func (s Shutdown) Describe(*secrets.Store) (sshexec.Operation, error) {
	mode := "-h"
	if s.Reboot {
		mode = "-r"
	}
	when := "now"
	if minutes := int(s.Delay.Minutes()); minutes > 0 {
		when = fmt.Sprintf("+%d", minutes)
	}
	return sshexec.Operation{
		RemoteCommand: fmt.Sprintf("sudo -n shutdown %s %s", mode, when),
	}, nil
}

// Command is the arbitrary-command passthrough, optionally templated per
// host.
type Command struct {
	CommandLine string
}

func (Command) Name() string { return "run" }

func (c Command) Describe(*secrets.Store) (sshexec.Operation, error) {
	if strings.TrimSpace(c.CommandLine) == "" {
		return sshexec.Operation{}, fmt.Errorf("empty command")
	}
	return sshexec.Operation{RemoteCommand: c.CommandLine}, nil
}

// AddUser provisions a user with sudo rights and an authorized key. The
// username travels in the session environment and the password and public
// key in a stdin payload, never on the remote command line where other local
// processes could observe them.
type AddUser struct{}

func (AddUser) Name() string { return "adduser" }

const addUserScript = `sudo -n --preserve-env=FLEETRUN_NEW_USER sh -c '
IFS= read -r pw
id "$FLEETRUN_NEW_USER" >/dev/null 2>&1 || useradd -m -s /bin/bash "$FLEETRUN_NEW_USER"
printf "%s:%s\n" "$FLEETRUN_NEW_USER" "$pw" | chpasswd
usermod -aG sudo "$FLEETRUN_NEW_USER"
home=$(getent passwd "$FLEETRUN_NEW_USER" | cut -d: -f6)
mkdir -p "$home/.ssh"
cat >> "$home/.ssh/authorized_keys"
chmod 700 "$home/.ssh"
chmod 600 "$home/.ssh/authorized_keys"
chown -R "$FLEETRUN_NEW_USER:$FLEETRUN_NEW_USER" "$home/.ssh"
'`

func (AddUser) Describe(store *secrets.Store) (sshexec.Operation, error) {
	if store == nil {
		return sshexec.Operation{}, fmt.Errorf("adduser requires a secrets file")
	}
	values, err := store.Require(secrets.KeyNewUserName, secrets.KeyNewUserPassword, secrets.KeyPubKeyFile)
	if err != nil {
		return sshexec.Operation{}, err
	}

	pubKey, err := readPubKey(values[secrets.KeyPubKeyFile])
	if err != nil {
		return sshexec.Operation{}, err
	}
	password := values[secrets.KeyNewUserPassword]

	return sshexec.Operation{
		RemoteCommand: addUserScript,
		Env:           map[string]string{"FLEETRUN_NEW_USER": values[secrets.KeyNewUserName]},
		UsesStdin:     true,
		Stdin: func() (io.Reader, error) {
			// First line is the password, the rest is the key.
			return strings.NewReader(password + "\n" + pubKey), nil
		},
	}, nil
}

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// TemplatedRunner decorates a runner with per-host command template
// expansion. Expansion failures are recorded as precondition failures for
// that host alone.
type TemplatedRunner struct {
	Inner sshexec.Runner
}

func (r TemplatedRunner) Run(ctx context.Context, op sshexec.Operation, host hostspec.Spec, cred keyring.Credential) sshexec.Result {
	expanded, err := template.Expand(op.RemoteCommand, host)
	if err != nil {
		return sshexec.PreconditionResult(host, err)
	}
	op.RemoteCommand = expanded
	return r.Inner.Run(ctx, op, host, cred)
}
