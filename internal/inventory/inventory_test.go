package inventory

import (
	"strings"
	"testing"
)

const doc = `
default_domain: lan
key_prefix: /keys/id_%s
hosts:
  - name: alpha
    tags: [web, prod]
  - name: beta
    domain: example.com
    key: /keys/beta_ed25519
  - name: 10.0.0.5
`

func TestParse(t *testing.T) {
	fleet, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if fleet.DefaultDomain != "lan" {
		t.Errorf("DefaultDomain = %q", fleet.DefaultDomain)
	}
	if fleet.KeyPrefix != "/keys/id_%s" {
		t.Errorf("KeyPrefix = %q", fleet.KeyPrefix)
	}
	if len(fleet.Hosts) != 3 {
		t.Fatalf("len(Hosts) = %d, want 3", len(fleet.Hosts))
	}
}

func TestTokens(t *testing.T) {
	fleet, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}

	tokens := fleet.Tokens()
	want := []string{"alpha", "beta@example.com", "10.0.0.5"}
	if len(tokens) != len(want) {
		t.Fatalf("len(tokens) = %d, want %d", len(tokens), len(want))
	}
	for i, tok := range tokens {
		if string(tok) != want[i] {
			t.Errorf("tokens[%d] = %q, want %q", i, tok, want[i])
		}
	}
}

func TestKeyOverrides(t *testing.T) {
	fleet, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}

	overrides := fleet.KeyOverrides()
	if len(overrides) != 1 {
		t.Fatalf("len(overrides) = %d, want 1", len(overrides))
	}
	if overrides["beta"] != "/keys/beta_ed25519" {
		t.Errorf("overrides[beta] = %q", overrides["beta"])
	}
}

func TestTagIndex(t *testing.T) {
	fleet, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}

	tags := fleet.TagIndex()
	if got := tags["alpha"]; len(got) != 2 || got[0] != "web" || got[1] != "prod" {
		t.Errorf("tags[alpha] = %v", got)
	}
	if _, ok := tags["beta"]; ok {
		t.Error("tags[beta] present, want absent")
	}
}

func TestParseRejectsNamelessHost(t *testing.T) {
	if _, err := Parse(strings.NewReader("hosts:\n  - tags: [web]\n")); err == nil {
		t.Error("Parse() = nil error for host without name, want error")
	}
}
