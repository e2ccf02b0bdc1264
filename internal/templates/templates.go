// Package templates loads the launch document templates by logical name.
// Built-in defaults are compiled in; an override filesystem may replace any
// of them.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/launchpad/internal/content"
)

// Logical template names.
const (
	Main      = "main.jnlp"
	Client    = "client.jnlp"
	Extension = "extension.jnlp"
)

//go:embed defaults/*.jnlp
var defaults embed.FS

// MissingTemplateError reports a template that exists neither in the
// override filesystem nor among the defaults.
type MissingTemplateError struct {
	Name string
	Err  error
}

func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("template %q not found: %v", e.Name, e.Err)
}

func (e *MissingTemplateError) Unwrap() error { return e.Err }

// Store resolves templates.
type Store struct {
	override    billy.Filesystem
	useDefaults bool
}

// New returns a store that consults override (may be nil) before the
// built-in defaults.
func New(override billy.Filesystem) *Store {
	return &Store{override: override, useDefaults: true}
}

// NewOverrideOnly returns a store with no built-in fallback.
func NewOverrideOnly(override billy.Filesystem) *Store {
	return &Store{override: override}
}

// Load returns the raw text of the named template.
func (s *Store) Load(name string) (string, error) {
	var lastErr error = fs.ErrNotExist
	if s.override != nil {
		data, err := util.ReadFile(s.override, name)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", &MissingTemplateError{Name: name, Err: err}
		}
		lastErr = err
	}
	if s.useDefaults {
		data, err := defaults.ReadFile(path.Join("defaults", name))
		if err == nil {
			return string(data), nil
		}
		lastErr = err
	}
	return "", &MissingTemplateError{Name: name, Err: lastErr}
}

// Render loads the named template and substitutes tokens. Placeholders
// without a value are kept for request-time resolution.
func (s *Store) Render(name string, tokens map[string]string) (string, error) {
	text, err := s.Load(name)
	if err != nil {
		return "", err
	}
	return content.Substitute(text, tokens), nil
}
