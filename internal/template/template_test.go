package template

import (
	"testing"

	"fleetrun/internal/hostspec"
)

func TestExpand(t *testing.T) {
	spec := hostspec.Resolve("web-01", "lan")

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"plain command unchanged", "uptime", "uptime"},
		{"host placeholder", "echo {{.Host}}", "echo web-01.lan"},
		{"bare name", "hostnamectl set-hostname {{.BareName}}", "hostnamectl set-hostname web-01"},
		{"domain", "echo {{.Domain}}", "echo lan"},
		{"upper func", "echo {{upper .BareName}}", "echo WEB-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.command, spec)
			if err != nil {
				t.Fatalf("Expand(%q) error = %v", tt.command, err)
			}
			if got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestExpandIPv4HasNoDomain(t *testing.T) {
	spec := hostspec.Resolve("10.0.0.5", "lan")
	got, err := Expand("echo {{.Host}}:{{.Domain}}", spec)
	if err != nil {
		t.Fatal(err)
	}
	if got != "echo 10.0.0.5:" {
		t.Errorf("Expand() = %q", got)
	}
}

func TestExpandBadTemplate(t *testing.T) {
	spec := hostspec.Resolve("alpha", "lan")
	if _, err := Expand("echo {{.Nope", spec); err == nil {
		t.Error("Expand() = nil error for unterminated action, want error")
	}
	if _, err := Expand("echo {{.Missing}}", spec); err == nil {
		t.Error("Expand() = nil error for unknown field, want error")
	}
}

func TestIsTemplate(t *testing.T) {
	if IsTemplate("uptime") {
		t.Error("IsTemplate(uptime) = true")
	}
	if !IsTemplate("echo {{.Host}}") {
		t.Error("IsTemplate({{.Host}}) = false")
	}
}
