// Package prompt renders the system prompt the Agent Driver sends to the
// external agent: a base prompt, a per-session-kind template, and a
// sandbox-specific addendum. Prompts are version-tagged by a hash of their
// rendered template text, not a hand-maintained version string, so the
// recorded version can never drift from what was actually sent.
package prompt

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Kind selects the per-session-kind template.
type Kind string

const (
	KindInitializer Kind = "initializer"
	KindCoding      Kind = "coding"
	KindReview      Kind = "review"
)

// SandboxFlavor selects the sandbox-specific addendum.
type SandboxFlavor string

const (
	SandboxNone      SandboxFlavor = "none"
	SandboxContainer SandboxFlavor = "container"
)

// Vars supplies the values interpolated into the base template.
type Vars struct {
	ProjectName string
	SpecPath    string
}

// Rendered is a composed system prompt and the content-hash version it was
// rendered at, suitable for recording on a Session.
type Rendered struct {
	Text    string
	Version string
}

var templateNames = map[Kind]string{
	KindInitializer: "templates/initializer.tmpl",
	KindCoding:      "templates/coding.tmpl",
	KindReview:      "templates/review.tmpl",
}

var sandboxTemplateNames = map[SandboxFlavor]string{
	SandboxNone:      "templates/sandbox_none.tmpl",
	SandboxContainer: "templates/sandbox_container.tmpl",
}

// Render composes the base prompt, the kind template, and the sandbox
// addendum (when non-empty) into one system prompt.
func Render(kind Kind, sandbox SandboxFlavor, vars Vars) (Rendered, error) {
	base, err := renderBase(vars)
	if err != nil {
		return Rendered{}, err
	}
	kindText, err := readTemplate(templateNames[kind])
	if err != nil {
		return Rendered{}, fmt.Errorf("prompt: unknown session kind %q: %w", kind, err)
	}

	var buf bytes.Buffer
	buf.WriteString(base)
	buf.WriteString("\n")
	buf.WriteString(kindText)

	if name, ok := sandboxTemplateNames[sandbox]; ok {
		addendum, err := readTemplate(name)
		if err != nil {
			return Rendered{}, err
		}
		buf.WriteString("\n")
		buf.WriteString(addendum)
	}

	text := buf.String()
	return Rendered{Text: text, Version: hashVersion(text)}, nil
}

func renderBase(vars Vars) (string, error) {
	raw, err := readTemplate("templates/base.tmpl")
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("base").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("prompt: parse base template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("prompt: render base template: %w", err)
	}
	return buf.String(), nil
}

func readTemplate(name string) (string, error) {
	data, err := templatesFS.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func hashVersion(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
