// Package template expands per-host placeholders in remote commands.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fleetrun/internal/hostspec"
)

// Context is the data available to a command template.
type Context struct {
	Host     string // canonical address
	BareName string
	Domain   string // domain suffix, empty for bare names and IPv4 literals
	RawToken string
}

// IsTemplate reports whether a command contains template actions.
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{") && strings.Contains(command, "}}")
}

// Expand renders a command against a host. Commands without template actions
// are returned unchanged.
func Expand(command string, spec hostspec.Spec) (string, error) {
	if !IsTemplate(command) {
		return command, nil
	}

	tmpl, err := template.New("command").Funcs(funcs()).Parse(command)
	if err != nil {
		return "", fmt.Errorf("parsing command template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, contextFor(spec)); err != nil {
		return "", fmt.Errorf("expanding command template for %s: %w", spec.CanonicalAddress, err)
	}
	return buf.String(), nil
}

func contextFor(spec hostspec.Spec) Context {
	bare := hostspec.BareName(hostspec.Token(spec.RawToken))
	ctx := Context{
		Host:     spec.CanonicalAddress,
		BareName: bare,
		RawToken: spec.RawToken,
	}
	if rest, ok := strings.CutPrefix(spec.CanonicalAddress, bare+"."); ok {
		ctx.Domain = rest
	}
	return ctx
}

func funcs() template.FuncMap {
	titleCaser := cases.Title(language.English)
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": titleCaser.String,
	}
}
