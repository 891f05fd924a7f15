// Package inventory loads a YAML fleet document as an alternative host
// source: hosts plus default domain, per-host key overrides, and tags.
package inventory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"fleetrun/internal/hostspec"
)

// Host is one fleet entry.
type Host struct {
	Name   string   `yaml:"name"`
	Domain string   `yaml:"domain,omitempty"` // overrides the fleet default
	Key    string   `yaml:"key,omitempty"`    // explicit SSH key path
	Tags   []string `yaml:"tags,omitempty"`
}

// Fleet is the whole inventory document.
type Fleet struct {
	DefaultDomain string `yaml:"default_domain,omitempty"`
	KeyPrefix     string `yaml:"key_prefix,omitempty"` // keyring prefix template
	Hosts         []Host `yaml:"hosts"`
}

// Parse reads a fleet document.
func Parse(r io.Reader) (*Fleet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}

	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	for i, h := range fleet.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("inventory host %d: name is required", i+1)
		}
	}
	return &fleet, nil
}

// Load reads a fleet document from a file.
func Load(path string) (*Fleet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening inventory %s: %w", path, err)
	}
	defer f.Close()

	fleet, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return fleet, nil
}

// Tokens yields the fleet as host tokens, in document order. A host with its
// own domain becomes a "name@domain" token so the resolver applies it ahead
// of any default.
func (f *Fleet) Tokens() []hostspec.Token {
	tokens := make([]hostspec.Token, 0, len(f.Hosts))
	for _, h := range f.Hosts {
		if h.Domain != "" {
			tokens = append(tokens, hostspec.Token(h.Name+"@"+h.Domain))
			continue
		}
		tokens = append(tokens, hostspec.Token(h.Name))
	}
	return tokens
}

// KeyOverrides yields the explicit per-host keys as a keyring override table
// keyed by bare name.
func (f *Fleet) KeyOverrides() map[string]string {
	overrides := map[string]string{}
	for _, h := range f.Hosts {
		if h.Key != "" {
			overrides[hostspec.BareName(hostspec.Token(h.Name))] = h.Key
		}
	}
	return overrides
}

// TagIndex maps bare host names to their tags.
func (f *Fleet) TagIndex() map[string][]string {
	index := map[string][]string{}
	for _, h := range f.Hosts {
		if len(h.Tags) > 0 {
			index[hostspec.BareName(hostspec.Token(h.Name))] = h.Tags
		}
	}
	return index
}
