// Package content models the items a deployed unit serves: static
// artifacts read from a filesystem and dynamic documents rendered per
// request.
package content

import (
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// MIME types for launch documents and archives.
const (
	MIMELaunchDocument = "application/x-java-jnlp-file"
	MIMEArchive        = "application/java-archive"
	MIMEOctetStream    = "application/octet-stream"
)

var mimeByExt = map[string]string{
	".jnlp": MIMELaunchDocument,
	".jar":  MIMEArchive,
	".war":  MIMEArchive,
	".png":  "image/png",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".ico":  "image/x-icon",
	".xml":  "application/xml",
	".html": "text/html",
	".txt":  "text/plain",
}

// MIMEFor guesses a MIME type from a file name.
func MIMEFor(name string) string {
	if m, ok := mimeByExt[strings.ToLower(path.Ext(name))]; ok {
		return m
	}
	return MIMEOctetStream
}

// RequestContext carries request-specific values for dynamic content.
type RequestContext struct {
	// Codebase is the URL the client used to reach the unit's context root.
	Codebase string
	// Properties are additional request tokens.
	Properties map[string]string
}

// Tokens returns the placeholder values the context supplies, escaped for
// insertion into XML.
func (rc RequestContext) Tokens() map[string]string {
	out := make(map[string]string, len(rc.Properties)+1)
	for k, v := range rc.Properties {
		out[k] = EscapeXML(v)
	}
	if rc.Codebase != "" {
		out["request.codebase"] = EscapeXML(rc.Codebase)
	}
	return out
}

// Item is a servable piece of content. Start/Stop/Suspend/Resume are
// idempotent and only flip the flags the serving layer consults.
type Item interface {
	Start()
	Stop()
	Suspend()
	Resume()
	IsEnabled() bool
	IsSuspended() bool
	// Servable reports enabled and not suspended.
	Servable() bool

	MIMEType() string
	ModTime() time.Time
	// Render produces the bytes served for a request.
	Render(rc RequestContext) ([]byte, error)
}

// toggle implements the enable/suspend flag pair shared by all items.
type toggle struct {
	enabled   atomic.Bool
	suspended atomic.Bool
}

func (t *toggle) Start() {
	t.enabled.Store(true)
	t.suspended.Store(false)
}

func (t *toggle) Stop()             { t.enabled.Store(false) }
func (t *toggle) Suspend()          { t.suspended.Store(true) }
func (t *toggle) Resume()           { t.suspended.Store(false) }
func (t *toggle) IsEnabled() bool   { return t.enabled.Load() }
func (t *toggle) IsSuspended() bool { return t.suspended.Load() }
func (t *toggle) Servable() bool    { return t.IsEnabled() && !t.IsSuspended() }

// Static serves a file from a filesystem, optionally one produced by the
// signing pipeline.
type Static struct {
	toggle
	fs     billy.Filesystem
	path   string
	mime   string
	signed bool
}

// NewStatic wraps the file at p. An empty mime is derived from the file name.
func NewStatic(fs billy.Filesystem, p, mime string, signed bool) *Static {
	if mime == "" {
		mime = MIMEFor(p)
	}
	return &Static{fs: fs, path: p, mime: mime, signed: signed}
}

// Path returns the file path within the filesystem.
func (s *Static) Path() string { return s.path }

// IsSigned reports whether the file came from the signing pipeline.
func (s *Static) IsSigned() bool { return s.signed }

func (s *Static) MIMEType() string { return s.mime }

// ModTime returns the file's modification time, or the zero time when the
// file cannot be stat'ed.
func (s *Static) ModTime() time.Time {
	info, err := s.fs.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Content reads the file.
func (s *Static) Content() ([]byte, error) {
	data, err := util.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("read static content %s: %w", s.path, err)
	}
	return data, nil
}

// Render implements Item. Static content ignores the request.
func (s *Static) Render(RequestContext) ([]byte, error) { return s.Content() }

// Dynamic serves generated text. Placeholders left unresolved at synthesis
// time are resolved per request from the RequestContext, in a single pass
// that also turns each escaped "$$" back into "$".
type Dynamic struct {
	toggle
	text    string
	mime    string
	main    bool
	created time.Time
}

// NewDynamic wraps generated text.
func NewDynamic(text, mime string, main bool) *Dynamic {
	if mime == "" {
		mime = MIMELaunchDocument
	}
	return &Dynamic{text: text, mime: mime, main: main, created: time.Now()}
}

// IsMain reports whether this is the unit's primary launch document.
func (d *Dynamic) IsMain() bool { return d.main }

// Text returns the stored text before request substitution.
func (d *Dynamic) Text() string { return d.text }

func (d *Dynamic) MIMEType() string   { return d.mime }
func (d *Dynamic) ModTime() time.Time { return d.created }

// Content renders the text for one request.
func (d *Dynamic) Content(rc RequestContext) []byte {
	return []byte(Expand(d.text, rc.Tokens()))
}

// Render implements Item.
func (d *Dynamic) Render(rc RequestContext) ([]byte, error) { return d.Content(rc), nil }

var (
	_ Item = (*Static)(nil)
	_ Item = (*Dynamic)(nil)
)
